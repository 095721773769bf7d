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
	"database/sql"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/FerretDB/ledgerstore/internal/util/fsql"
	"github.com/FerretDB/ledgerstore/internal/util/lazyerrors"
	"github.com/FerretDB/ledgerstore/internal/util/observability"
)

// insertBatchSize is the number of rows inserted by a single statement.
const insertBatchSize = 200

// Dataset exports and imports the whole ledger.
//
// It does not manage transactions; callers pass a transaction as [fsql.Querier]
// when atomicity is needed.
type Dataset struct {
	l *zap.Logger
}

// NewDataset creates a new Dataset.
func NewDataset(l *zap.Logger) *Dataset {
	return &Dataset{
		l: l.Named("ledger"),
	}
}

// Export reads all tracked tables into a new snapshot.
func (d *Dataset) Export(ctx context.Context, q fsql.Querier) (*Snapshot, error) {
	defer observability.FuncCall(ctx)()

	s := &Snapshot{
		Categories:   []Category{},
		Accounts:     []Account{},
		Budgets:      []Budget{},
		Transactions: []Transaction{},
		Metadata: Metadata{
			ExportTime: time.Now().UnixMilli(),
			Version:    SnapshotVersion,
			ID:         uuid.NewString(),
		},
	}

	err := queryRows(ctx, q,
		"SELECT id, name, type, icon, color, parent_id, sort_order, is_custom FROM categories ORDER BY id",
		func(rows *sql.Rows) error {
			var c Category
			if err := rows.Scan(&c.ID, &c.Name, &c.Type, &c.Icon, &c.Color, &c.ParentID, &c.SortOrder, &c.IsCustom); err != nil {
				return err
			}

			s.Categories = append(s.Categories, c)

			return nil
		},
	)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	err = queryRows(ctx, q,
		"SELECT id, name, type, balance, currency, icon, color, is_default, include_in_total FROM accounts ORDER BY id",
		func(rows *sql.Rows) error {
			var a Account
			if err := rows.Scan(&a.ID, &a.Name, &a.Type, &a.Balance, &a.Currency, &a.Icon, &a.Color, &a.IsDefault, &a.IncludeInTotal); err != nil {
				return err
			}

			s.Accounts = append(s.Accounts, a)

			return nil
		},
	)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	err = queryRows(ctx, q,
		"SELECT id, name, amount, start_date, end_date, period, categories, is_active, note FROM budgets ORDER BY id",
		func(rows *sql.Rows) error {
			var b Budget
			var categories string

			if err := rows.Scan(&b.ID, &b.Name, &b.Amount, &b.StartDate, &b.EndDate, &b.Period, &categories, &b.IsActive, &b.Note); err != nil {
				return err
			}

			if err := json.Unmarshal([]byte(categories), &b.Categories); err != nil {
				return lazyerrors.Errorf("budget %d: %w", b.ID, err)
			}

			if b.Categories == nil {
				b.Categories = []int64{}
			}

			s.Budgets = append(s.Budgets, b)

			return nil
		},
	)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	err = queryRows(ctx, q,
		"SELECT id, amount, category_id, account_id, date, note, is_income, location, image_uri FROM transactions ORDER BY id",
		func(rows *sql.Rows) error {
			var t Transaction
			if err := rows.Scan(&t.ID, &t.Amount, &t.CategoryID, &t.AccountID, &t.Date, &t.Note, &t.IsIncome, &t.Location, &t.ImageURI); err != nil {
				return err
			}

			s.Transactions = append(s.Transactions, t)

			return nil
		},
	)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	d.l.Debug("Dataset exported.", zap.Any("counts", s.Counts()))

	return s, nil
}

// Clear deletes all rows from all tracked tables.
func (d *Dataset) Clear(ctx context.Context, q fsql.Querier) error {
	defer observability.FuncCall(ctx)()

	for _, table := range Tables {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return lazyerrors.Errorf("%s: %w", table, err)
		}
	}

	// reset AUTOINCREMENT counters; sqlite_sequence exists only after the first insert
	if _, err := q.ExecContext(ctx, "DELETE FROM sqlite_sequence"); err != nil && !strings.Contains(err.Error(), "no such table") {
		return lazyerrors.Error(err)
	}

	d.l.Debug("Dataset cleared.")

	return nil
}

// Import inserts all snapshot rows, keeping their identifiers.
//
// Tables are expected to be empty.
func (d *Dataset) Import(ctx context.Context, q fsql.Querier, s *Snapshot) error {
	defer observability.FuncCall(ctx)()

	err := insertRows(ctx, q, "categories",
		[]string{"id", "name", "type", "icon", "color", "parent_id", "sort_order", "is_custom"},
		len(s.Categories),
		func(i int) []any {
			c := &s.Categories[i]
			return []any{nullID(c.ID), c.Name, c.Type, c.Icon, c.Color, c.ParentID, c.SortOrder, c.IsCustom}
		},
	)
	if err != nil {
		return lazyerrors.Error(err)
	}

	err = insertRows(ctx, q, "accounts",
		[]string{"id", "name", "type", "balance", "currency", "icon", "color", "is_default", "include_in_total"},
		len(s.Accounts),
		func(i int) []any {
			a := &s.Accounts[i]
			return []any{nullID(a.ID), a.Name, a.Type, a.Balance, a.Currency, a.Icon, a.Color, a.IsDefault, a.IncludeInTotal}
		},
	)
	if err != nil {
		return lazyerrors.Error(err)
	}

	budgetCategories := make([]string, len(s.Budgets))

	for i, b := range s.Budgets {
		categories := b.Categories
		if categories == nil {
			categories = []int64{}
		}

		data, err := json.Marshal(categories)
		if err != nil {
			return lazyerrors.Error(err)
		}

		budgetCategories[i] = string(data)
	}

	err = insertRows(ctx, q, "budgets",
		[]string{"id", "name", "amount", "start_date", "end_date", "period", "categories", "is_active", "note"},
		len(s.Budgets),
		func(i int) []any {
			b := &s.Budgets[i]
			return []any{nullID(b.ID), b.Name, b.Amount, b.StartDate, b.EndDate, b.Period, budgetCategories[i], b.IsActive, b.Note}
		},
	)
	if err != nil {
		return lazyerrors.Error(err)
	}

	err = insertRows(ctx, q, "transactions",
		[]string{"id", "amount", "category_id", "account_id", "date", "note", "is_income", "location", "image_uri"},
		len(s.Transactions),
		func(i int) []any {
			t := &s.Transactions[i]
			return []any{nullID(t.ID), t.Amount, t.CategoryID, t.AccountID, t.Date, t.Note, t.IsIncome, t.Location, t.ImageURI}
		},
	)
	if err != nil {
		return lazyerrors.Error(err)
	}

	d.l.Debug("Dataset imported.", zap.Any("counts", s.Counts()))

	return nil
}

// Counts returns row counts of all tracked tables.
func (d *Dataset) Counts(ctx context.Context, q fsql.Querier) (Counts, error) {
	defer observability.FuncCall(ctx)()

	var res Counts

	for table, p := range map[string]*int{
		"accounts":     &res.Accounts,
		"categories":   &res.Categories,
		"transactions": &res.Transactions,
		"budgets":      &res.Budgets,
	} {
		if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(p); err != nil {
			return Counts{}, lazyerrors.Errorf("%s: %w", table, err)
		}
	}

	return res, nil
}

// nullID returns nil for zero identifiers so the engine assigns a new one.
func nullID(id int64) any {
	if id == 0 {
		return nil
	}

	return id
}

// queryRows runs the query and calls f for every row.
func queryRows(ctx context.Context, q fsql.Querier, query string, f func(*sql.Rows) error) error {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return err
	}

	defer rows.Close()

	for rows.Next() {
		if err = f(rows); err != nil {
			return err
		}
	}

	return rows.Err()
}

// insertRows inserts n rows into the table using multi-row INSERT statements.
func insertRows(ctx context.Context, q fsql.Querier, table string, columns []string, n int, row func(i int) []any) error {
	placeholders := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	prefix := "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES "

	for start := 0; start < n; start += insertBatchSize {
		end := min(start+insertBatchSize, n)

		values := make([]string, 0, end-start)
		args := make([]any, 0, (end-start)*len(columns))

		for i := start; i < end; i++ {
			values = append(values, placeholders)
			args = append(args, row(i)...)
		}

		if _, err := q.ExecContext(ctx, prefix+strings.Join(values, ", "), args...); err != nil {
			return lazyerrors.Errorf("%s: %w", table, err)
		}
	}

	return nil
}
