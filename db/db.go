/*
Copyright 2025 the fedibox authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package db implements the MySQL repositories. Aggregates record
// events; Save applies each event's side-effect in the same
// transaction as the aggregate row and publishes the events to the
// in-process bus only after the transaction commits.
package db

import (
	"database/sql"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// Open connects to MySQL using a DSN. parseTime is forced on so
// TIMESTAMP columns scan into time.Time.
func Open(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}
	cfg.ParseTime = true
	cfg.MultiStatements = true
	// UPDATE reports matched rows, not changed rows, so saving an
	// unmodified aggregate is not mistaken for a missing row.
	cfg.ClientFoundRows = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build connector: %w", err)
	}

	return sql.OpenDB(connector), nil
}
