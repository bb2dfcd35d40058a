// Copyright 2025 Edgeo SCADA
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

package registers

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	modbus "github.com/edgeo-scada/modbus-bridge"
)

// SQLiteStore is a RegisterGateway that persists accepted holding register
// writes so they survive a restart. Reads and writability come from the
// wrapped gateway.
type SQLiteStore struct {
	db       *sql.DB
	base     modbus.RegisterGateway
	logger   *slog.Logger
	restored int
}

// OpenStore opens (or creates) the database at path and replays persisted
// writes into base. Values for addresses base refuses are skipped.
func OpenStore(path string, base modbus.RegisterGateway, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db, base: base, logger: logger}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.restore(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	query := `
	CREATE TABLE IF NOT EXISTS holding_registers (
		address INTEGER PRIMARY KEY,
		value INTEGER NOT NULL,
		updated_at DATETIME
	);
	`
	_, err := s.db.Exec(query)
	return err
}

func (s *SQLiteStore) restore() error {
	rows, err := s.db.Query(`SELECT address, value FROM holding_registers ORDER BY address`)
	if err != nil {
		return fmt.Errorf("load holding registers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var addr, value int
		if err := rows.Scan(&addr, &value); err != nil {
			return fmt.Errorf("load holding registers: %w", err)
		}
		if !s.base.WriteHolding(uint16(addr), uint16(value)) {
			s.logger.Debug("skipping persisted register",
				slog.Int("addr", addr),
				slog.Int("value", value))
			continue
		}
		s.restored++
	}
	return rows.Err()
}

// Restored returns how many persisted values were applied on open.
func (s *SQLiteStore) Restored() int {
	return s.restored
}

func (s *SQLiteStore) ReadHolding(addr uint16) (uint16, bool) {
	return s.base.ReadHolding(addr)
}

func (s *SQLiteStore) ReadInput(addr uint16) (uint16, bool) {
	return s.base.ReadInput(addr)
}

// WriteHolding records the write and applies it to the wrapped gateway as
// one unit: the row is inserted inside a transaction, the gateway write
// happens before commit, and a failed commit restores the previous value.
// A write that cannot be persisted is reported as failed and leaves the
// register unchanged.
func (s *SQLiteStore) WriteHolding(addr, value uint16) bool {
	tx, err := s.db.Begin()
	if err != nil {
		s.logWriteError(addr, err)
		return false
	}
	defer tx.Rollback()

	query := `INSERT INTO holding_registers (address, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(address) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := tx.Exec(query, int(addr), int(value), time.Now().UTC()); err != nil {
		s.logWriteError(addr, err)
		return false
	}

	prev, hadPrev := s.base.ReadHolding(addr)
	if !s.base.WriteHolding(addr, value) {
		return false
	}

	if err := tx.Commit(); err != nil {
		s.logWriteError(addr, err)
		if hadPrev {
			s.base.WriteHolding(addr, prev)
		}
		return false
	}
	return true
}

func (s *SQLiteStore) logWriteError(addr uint16, err error) {
	s.logger.Error("persist holding register",
		slog.Uint64("addr", uint64(addr)),
		slog.String("error", err.Error()))
}

// Persisted returns the stored value for addr, if any.
func (s *SQLiteStore) Persisted(addr uint16) (uint16, bool, error) {
	var value int
	err := s.db.QueryRow(`SELECT value FROM holding_registers WHERE address = ?`, int(addr)).Scan(&value)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint16(value), true, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
