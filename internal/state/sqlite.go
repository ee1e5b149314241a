package state

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/compassvpn/user-metrics/internal/logsource"
)

// SQLite stores the cursor as the single row of a table.
type SQLite struct {
	mu   sync.Mutex
	conn *sqlite.Conn
}

// OpenSQLite opens or creates the database at path. ":memory:" is allowed.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("open state db: empty path")
	}

	conn, err := sqlite.OpenConn(path, sqlite.OpenReadWrite|sqlite.OpenCreate)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}

	s := &SQLite{conn: conn}
	if err := s.ensureSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

// ensureSchema creates the cursor table. The CHECK keeps it to one row.
func (s *SQLite) ensureSchema() error {
	err := sqlitex.ExecuteScript(s.conn, `
		CREATE TABLE IF NOT EXISTS log_cursor (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			identity    TEXT    NOT NULL DEFAULT '',
			byte_offset INTEGER NOT NULL DEFAULT 0
		);
	`, nil)
	if err != nil {
		return fmt.Errorf("create state schema: %w", err)
	}
	return nil
}

func (s *SQLite) Load(context.Context) (logsource.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var c logsource.Cursor
	err := sqlitex.Execute(s.conn, `SELECT identity, byte_offset FROM log_cursor WHERE id = 1`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			c.Identity = stmt.ColumnText(0)
			c.Offset = stmt.ColumnInt64(1)
			return nil
		},
	})
	if err != nil {
		return logsource.Cursor{}, fmt.Errorf("load cursor: %w", err)
	}
	return c, nil
}

func (s *SQLite) Save(_ context.Context, c logsource.Cursor) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	defer sqlitex.Save(s.conn)(&err)

	err = sqlitex.Execute(s.conn, `
		INSERT INTO log_cursor (id, identity, byte_offset)
		VALUES (1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			identity    = excluded.identity,
			byte_offset = excluded.byte_offset
	`, &sqlitex.ExecOptions{
		Args: []any{c.Identity, c.Offset},
	})
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}
