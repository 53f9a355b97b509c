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
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

// pgxAccess is the types.Access implementation backed by a pgx
// connection pool, used for the CRM and for Postgres/CRDB-flavored
// source and target schemas.
type pgxAccess struct {
	pool *pgxpool.Pool
}

var _ types.Access = (*pgxAccess)(nil)

func (a *pgxAccess) Select(ctx context.Context, query string, args ...any) (*types.Table, error) {
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "pgx select")
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	table := types.NewTable(columns)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, "pgx scan row")
		}
		row := make(types.Row, len(columns))
		for i, c := range columns {
			row[c] = values[i]
		}
		table.Append(row)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "pgx iterate rows")
	}
	return table, nil
}

func (a *pgxAccess) BatchExec(ctx context.Context, statement string, rows [][]any, chunkSize int) error {
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

func (a *pgxAccess) execChunk(ctx context.Context, statement string, rows [][]any) error {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "pgx begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, args := range rows {
		batch.Queue(statement, args...)
	}
	br := tx.SendBatch(ctx, batch)
	for range rows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrap(err, "pgx batch exec")
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(err, "pgx batch close")
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "pgx commit")
	}
	return nil
}

func (a *pgxAccess) Scalar(ctx context.Context, query string, args ...any) (any, error) {
	var value any
	err := a.pool.QueryRow(ctx, query, args...).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "pgx scalar")
	}
	return value, nil
}

func (a *pgxAccess) Placeholder(i int) string {
	return fmt.Sprintf("$%d", i)
}

func (a *pgxAccess) Close() error {
	a.pool.Close()
	return nil
}
