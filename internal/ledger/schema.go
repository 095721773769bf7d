// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package ledger

import (
	"context"

	"github.com/FerretDB/ledgerstore/internal/util/fsql"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
)

// Table names in the order they should be cleared.
// Import uses the reverse order.
var Tables = []string{"transactions", "budgets", "accounts", "categories"}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS categories (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT    NOT NULL,
		type       TEXT    NOT NULL DEFAULT 'EXPENSE',
		icon       TEXT    NOT NULL DEFAULT '',
		color      INTEGER NOT NULL DEFAULT 0,
		parent_id  INTEGER,
		sort_order INTEGER NOT NULL DEFAULT 0,
		is_custom  INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS accounts (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		name             TEXT    NOT NULL,
		type             TEXT    NOT NULL DEFAULT 'CASH',
		balance          REAL    NOT NULL DEFAULT 0,
		currency         TEXT    NOT NULL DEFAULT 'CNY',
		icon             TEXT    NOT NULL DEFAULT '',
		color            INTEGER NOT NULL DEFAULT 0,
		is_default       INTEGER NOT NULL DEFAULT 0,
		include_in_total INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE TABLE IF NOT EXISTS budgets (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		name       TEXT    NOT NULL,
		amount     REAL    NOT NULL,
		start_date INTEGER NOT NULL,
		end_date   INTEGER NOT NULL,
		period     TEXT    NOT NULL DEFAULT 'MONTHLY',
		categories TEXT    NOT NULL DEFAULT '[]',
		is_active  INTEGER NOT NULL DEFAULT 1,
		note       TEXT    NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		amount      REAL    NOT NULL,
		category_id INTEGER,
		account_id  INTEGER NOT NULL,
		date        INTEGER NOT NULL,
		note        TEXT    NOT NULL DEFAULT '',
		is_income   INTEGER NOT NULL DEFAULT 0,
		location    TEXT    NOT NULL DEFAULT '',
		image_uri   TEXT    NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS index_transactions_category_id ON transactions (category_id)`,
	`CREATE INDEX IF NOT EXISTS index_transactions_account_id ON transactions (account_id)`,
	`CREATE INDEX IF NOT EXISTS index_transactions_date ON transactions (date)`,
	`CREATE INDEX IF NOT EXISTS index_categories_parent_id ON categories (parent_id)`,
}

// Migrate creates all tables and indexes if they do not exist.
func Migrate(ctx context.Context, q fsql.Querier) error {
	for _, s := range schema {
		if _, err := q.ExecContext(ctx, s); err != nil {
			return lazyerrors.Error(err)
		}
	}

	return nil
}
