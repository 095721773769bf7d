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

	"github.com/goccy/go-json"

	"github.com/FerretDB/ledgerstore/internal/util/fsql"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
)

// InsertCategory inserts a single category and returns its identifier.
func InsertCategory(ctx context.Context, q fsql.Querier, c *Category) (int64, error) {
	res, err := q.ExecContext(ctx,
		"INSERT INTO categories (id, name, type, icon, color, parent_id, sort_order, is_custom) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		nullID(c.ID), c.Name, orDefault(c.Type, "EXPENSE"), c.Icon, c.Color, c.ParentID, c.SortOrder, c.IsCustom,
	)
	if err != nil {
		return 0, lazyerrors.Error(err)
	}

	return res.LastInsertId()
}

// InsertAccount inserts a single account and returns its identifier.
func InsertAccount(ctx context.Context, q fsql.Querier, a *Account) (int64, error) {
	res, err := q.ExecContext(ctx,
		"INSERT INTO accounts (id, name, type, balance, currency, icon, color, is_default, include_in_total) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		nullID(a.ID), a.Name, orDefault(a.Type, "CASH"), a.Balance, orDefault(a.Currency, "CNY"), a.Icon, a.Color, a.IsDefault, a.IncludeInTotal,
	)
	if err != nil {
		return 0, lazyerrors.Error(err)
	}

	return res.LastInsertId()
}

// InsertBudget inserts a single budget and returns its identifier.
func InsertBudget(ctx context.Context, q fsql.Querier, b *Budget) (int64, error) {
	categories := b.Categories
	if categories == nil {
		categories = []int64{}
	}

	data, err := json.Marshal(categories)
	if err != nil {
		return 0, lazyerrors.Error(err)
	}

	res, err := q.ExecContext(ctx,
		"INSERT INTO budgets (id, name, amount, start_date, end_date, period, categories, is_active, note) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		nullID(b.ID), b.Name, b.Amount, b.StartDate, b.EndDate, orDefault(b.Period, "MONTHLY"), string(data), b.IsActive, b.Note,
	)
	if err != nil {
		return 0, lazyerrors.Error(err)
	}

	return res.LastInsertId()
}

// InsertTransaction inserts a single transaction and returns its identifier.
func InsertTransaction(ctx context.Context, q fsql.Querier, t *Transaction) (int64, error) {
	res, err := q.ExecContext(ctx,
		"INSERT INTO transactions (id, amount, category_id, account_id, date, note, is_income, location, image_uri) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		nullID(t.ID), t.Amount, t.CategoryID, t.AccountID, t.Date, t.Note, t.IsIncome, t.Location, t.ImageURI,
	)
	if err != nil {
		return 0, lazyerrors.Error(err)
	}

	return res.LastInsertId()
}

// orDefault returns s, or def if s is empty.
func orDefault(s, def string) string {
	if s == "" {
		return def
	}

	return s
}
