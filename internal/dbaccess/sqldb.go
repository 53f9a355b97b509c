// Copyright 2024 The Sync Engine Authors
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
//
// SPDX-License-Identifier: Apache-2.0

package dbaccess

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"

	_ "github.com/go-sql-driver/mysql" // register driver
	_ "github.com/lib/pq"              // register driver
	"github.com/pkg/errors"

	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

// sqlAccess is the types.Access implementation backed by
// database/sql, used for MySQL sources (go-sql-driver/mysql) and as
// the default fallback driver (lib/pq) for any DSN scheme the pgx path
// does not recognize.
type sqlAccess struct {
	db          *sql.DB
	placeholder func(i int) string
}

var _ types.Access = (*sqlAccess)(nil)

func openMySQL(ctx context.Context, info ConnInfo) (types.Access, error) {
	dataSourceName, err := mysqlDataSourceName(info)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("mysql", dataSourceName)
	if err != nil {
		return nil, errors.Wrap(err, "opening mysql pool")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "pinging mysql pool")
	}
	return &sqlAccess{db: db, placeholder: func(int) string { return "?" }}, nil
}

func mysqlDataSourceName(info ConnInfo) (string, error) {
	u, err := url.Parse(info.DSN)
	if err != nil {
		return "", errors.Wrap(err, "parsing mysql DSN")
	}
	user := info.User
	pass := info.Password
	if u.User != nil {
		if user == "" {
			user = u.User.Username()
		}
		if p, ok := u.User.Password(); ok && pass == "" {
			pass = p
		}
	}
	path := u.Path
	path = strings.TrimPrefix(path, "/")
	query := u.RawQuery
	dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s", user, pass, u.Host, path)
	if query != "" {
		dsn += "?" + query
	}
	return dsn, nil
}

func openLegacyPostgres(ctx context.Context, info ConnInfo) (types.Access, error) {
	db, err := sql.Open("postgres", info.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "opening legacy postgres pool")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "pinging legacy postgres pool")
	}
	return &sqlAccess{db: db, placeholder: func(i int) string { return fmt.Sprintf("$%d", i) }}, nil
}

func (a *sqlAccess) Select(ctx context.Context, query string, args ...any) (*types.Table, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "sql select")
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "sql columns")
	}

	table := types.NewTable(columns)
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "sql scan row")
		}
		row := make(types.Row, len(columns))
		for i, c := range columns {
			row[c] = values[i]
		}
		table.Append(row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sql iterate rows")
	}
	return table, nil
}

func (a *sqlAccess) BatchExec(ctx context.Context, statement string, rows [][]any, chunkSize int) error {
	if len(rows) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = len(rows)
	}
	for start := 0; start < len(rows); start += chunkSize {
		end := start + chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		if err := a.execChunk(ctx, statement, rows[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (a *sqlAccess) execChunk(ctx context.Context, statement string, rows [][]any) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "sql begin")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, statement)
	if err != nil {
		return errors.Wrap(err, "sql prepare")
	}
	defer stmt.Close()

	for _, args := range rows {
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.Wrap(err, "sql batch exec")
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "sql commit")
	}
	return nil
}

func (a *sqlAccess) Scalar(ctx context.Context, query string, args ...any) (any, error) {
	var value any
	err := a.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "sql scalar")
	}
	return value, nil
}

func (a *sqlAccess) Placeholder(i int) string {
	return a.placeholder(i)
}

func (a *sqlAccess) Close() error {
	return a.db.Close()
}
