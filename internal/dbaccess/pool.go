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

// Package dbaccess implements the C1 typed accessor layer over the
// database driver (spec.md §1, §4 "DB Access"): tabular select, batched
// write, scalar. Per spec.md §9's "driver thickness toggle" note, this
// rewrite picks one mode per configured DSN scheme rather than
// opportunistically falling back between a thick and thin client:
//
//   - "postgres://" and "crdb://" DSNs open a jackc/pgx/v5 pgxpool.Pool.
//   - "mysql://" DSNs open database/sql with go-sql-driver/mysql
//     registered.
//   - any other scheme opens database/sql with github.com/lib/pq
//     registered as "postgres", matching the driver used by the
//     teacher's sink.go/resolved_table.go.
package dbaccess

import (
	"context"
	"net/url"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/yassirelasry80-ux/syncengine/internal/types"
)

// ConnInfo is the minimal connection information needed to open a pool;
// it is deliberately decoupled from internal/config so this package has
// no dependency cycle back to the config loader.
type ConnInfo struct {
	User     string
	Password string
	DSN      string
}

// Open selects a driver by the DSN's scheme and returns a ready
// types.Access.
func Open(ctx context.Context, info ConnInfo) (types.Access, error) {
	scheme := dsnScheme(info.DSN)
	switch scheme {
	case "postgres", "postgresql", "crdb", "cockroach":
		return openPgx(ctx, info)
	case "mysql":
		return openMySQL(ctx, info)
	default:
		return openLegacyPostgres(ctx, info)
	}
}

func dsnScheme(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return ""
	}
	return strings.ToLower(u.Scheme)
}

func openPgx(ctx context.Context, info ConnInfo) (types.Access, error) {
	cfg, err := pgxpool.ParseConfig(info.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "parsing pgx pool config")
	}
	if info.User != "" {
		cfg.ConnConfig.User = info.User
	}
	if info.Password != "" {
		cfg.ConnConfig.Password = info.Password
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "opening pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "pinging pgx pool")
	}
	return &pgxAccess{pool: pool}, nil
}
