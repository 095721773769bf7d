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

// Package ledger contains the ledger schema and the full-dataset export/import collaborator.
package ledger

// Category represents income or expense category.
type Category struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Type      string `json:"type"` // "INCOME" or "EXPENSE"
	Icon      string `json:"icon,omitempty"`
	Color     int64  `json:"color,omitempty"`
	ParentID  *int64 `json:"parentId,omitempty"`
	SortOrder int64  `json:"sortOrder"`
	IsCustom  bool   `json:"isCustom"`
}

// Account represents a money account.
type Account struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	Type           string  `json:"type"`
	Balance        float64 `json:"balance"`
	Currency       string  `json:"currency"`
	Icon           string  `json:"icon,omitempty"`
	Color          int64   `json:"color,omitempty"`
	IsDefault      bool    `json:"isDefault"`
	IncludeInTotal bool    `json:"includeInTotal"`
}

// Budget represents a spending limit over a set of categories.
type Budget struct {
	ID         int64   `json:"id"`
	Name       string  `json:"name"`
	Amount     float64 `json:"amount"`
	StartDate  int64   `json:"startDate"` // epoch milliseconds
	EndDate    int64   `json:"endDate"`   // epoch milliseconds
	Period     string  `json:"period"`
	Categories []int64 `json:"categories"`
	IsActive   bool    `json:"isActive"`
	Note       string  `json:"note,omitempty"`
}

// Transaction represents a single income or expense record.
type Transaction struct {
	ID         int64   `json:"id"`
	Amount     float64 `json:"amount"`
	CategoryID *int64  `json:"categoryId"`
	AccountID  int64   `json:"accountId"`
	Date       int64   `json:"date"` // epoch milliseconds
	Note       string  `json:"note"`
	IsIncome   bool    `json:"isIncome"`
	Location   string  `json:"location,omitempty"`
	ImageURI   string  `json:"imageUri,omitempty"`
}

// Metadata describes a snapshot.
type Metadata struct {
	ExportTime int64  `json:"exportTime"` // epoch milliseconds
	Version    string `json:"version"`
	ID         string `json:"id,omitempty"`
}

// SnapshotVersion is the version of snapshots written by [Dataset.Export].
const SnapshotVersion = "1.0"

// Snapshot is the full dataset.
type Snapshot struct {
	Categories   []Category    `json:"categories"`
	Accounts     []Account     `json:"accounts"`
	Budgets      []Budget      `json:"budgets"`
	Transactions []Transaction `json:"transactions"`
	Metadata     Metadata      `json:"metadata"`
}

// Counts contains row counts of all tracked tables.
type Counts struct {
	Accounts     int `json:"accounts"`
	Categories   int `json:"categories"`
	Transactions int `json:"transactions"`
	Budgets      int `json:"budgets"`
}

// Counts returns snapshot row counts.
func (s *Snapshot) Counts() Counts {
	return Counts{
		Accounts:     len(s.Accounts),
		Categories:   len(s.Categories),
		Transactions: len(s.Transactions),
		Budgets:      len(s.Budgets),
	}
}
