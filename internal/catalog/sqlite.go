package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const sqlitePageSize = 100

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS databases (
		name TEXT PRIMARY KEY,
		definition TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS tables (
		database_name TEXT NOT NULL,
		name TEXT NOT NULL,
		definition TEXT NOT NULL,
		PRIMARY KEY (database_name, name)
	)`,
	`CREATE TABLE IF NOT EXISTS partitions (
		database_name TEXT NOT NULL,
		table_name TEXT NOT NULL,
		value_key TEXT NOT NULL,
		definition TEXT NOT NULL,
		PRIMARY KEY (database_name, table_name, value_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_partitions_table
		ON partitions (database_name, table_name)`,
}

// SQLite implements Catalog on a local SQLite database. It gives the swap
// pipeline a fully local catalog for development and offline testing, with
// the same semantics the Glue client exposes.
type SQLite struct {
	db     *sql.DB // Write connection (single writer)
	readDB *sql.DB // Read connection pool (concurrent readers)
	dbPath string
	mu     sync.Mutex // Write-only lock (reads don't need this)

	insertPartitionStmt *sql.Stmt
}

var _ Catalog = (*SQLite)(nil)

// NewSQLite opens (creating if needed) a SQLite-backed catalog at dbPath.
func NewSQLite(dbPath string) (*SQLite, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("catalog: failed to create catalog directory: %w", err)
		}
	}

	// Write connection: single writer with WAL mode
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // Single writer
	db.SetMaxIdleConns(1)

	c := &SQLite{db: db, dbPath: dbPath}
	if err := c.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to initialize schema: %w", err)
	}

	// Read connection pool opened after the schema exists
	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("catalog: failed to open read database: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	c.readDB = readDB

	insertStmt, err := db.Prepare(`
		INSERT OR IGNORE INTO partitions (database_name, table_name, value_key, definition)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("catalog: failed to prepare insert statement: %w", err)
	}
	c.insertPartitionStmt = insertStmt

	return c, nil
}

func (c *SQLite) initSchema() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, stmt := range sqliteSchema {
		if _, err := c.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

// CreateDatabase registers a database. Existing entries are replaced.
func (c *SQLite) CreateDatabase(ctx context.Context, db Database) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	def, err := json.Marshal(db)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode database: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO databases (name, definition) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET definition = excluded.definition`,
		db.Name, string(def))
	if err != nil {
		return fmt.Errorf("catalog: failed to insert database: %w", err)
	}
	return nil
}

func (c *SQLite) GetDatabase(ctx context.Context, name string) (*Database, error) {
	var def string
	err := c.readDB.QueryRowContext(ctx,
		"SELECT definition FROM databases WHERE name = ?", name).Scan(&def)
	if err == sql.ErrNoRows {
		return nil, ErrDatabaseNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get database %s: %w", name, err)
	}

	var db Database
	if err := json.Unmarshal([]byte(def), &db); err != nil {
		return nil, fmt.Errorf("catalog: failed to decode database %s: %w", name, err)
	}
	return &db, nil
}

func (c *SQLite) GetTable(ctx context.Context, database, name string) (*Table, error) {
	var def string
	err := c.readDB.QueryRowContext(ctx,
		"SELECT definition FROM tables WHERE database_name = ? AND name = ?",
		database, name).Scan(&def)
	if err == sql.ErrNoRows {
		return nil, ErrTableNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get table %s.%s: %w", database, name, err)
	}
	return decodeTable(def, database, name)
}

func (c *SQLite) CreateTable(ctx context.Context, database string, input TableInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var one int
	err := c.db.QueryRowContext(ctx,
		"SELECT 1 FROM databases WHERE name = ?", database).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s", ErrDatabaseNotFound, database)
	}
	if err != nil {
		return fmt.Errorf("catalog: failed to check database %s: %w", database, err)
	}

	now := time.Now().UTC()
	t := tableFromInput(database, input)
	t.CreateTime = now
	t.UpdateTime = now

	def, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode table: %w", err)
	}

	res, err := c.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO tables (database_name, name, definition) VALUES (?, ?, ?)",
		database, input.Name, string(def))
	if err != nil {
		return fmt.Errorf("catalog: failed to insert table %s.%s: %w", database, input.Name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s.%s", ErrTableExists, database, input.Name)
	}
	return nil
}

func (c *SQLite) UpdateTable(ctx context.Context, database string, input TableInput) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	old, err := c.getTableLocked(ctx, database, input.Name)
	if err != nil {
		return err
	}

	t := tableFromInput(database, input)
	t.CreateTime = old.CreateTime
	t.CreatedBy = old.CreatedBy
	t.UpdateTime = time.Now().UTC()

	def, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("catalog: failed to encode table: %w", err)
	}
	_, err = c.db.ExecContext(ctx,
		"UPDATE tables SET definition = ? WHERE database_name = ? AND name = ?",
		string(def), database, input.Name)
	if err != nil {
		return fmt.Errorf("catalog: failed to update table %s.%s: %w", database, input.Name, err)
	}
	return nil
}

func (c *SQLite) getTableLocked(ctx context.Context, database, name string) (*Table, error) {
	var def string
	err := c.db.QueryRowContext(ctx,
		"SELECT definition FROM tables WHERE database_name = ? AND name = ?",
		database, name).Scan(&def)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s.%s", ErrTableNotFound, database, name)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to get table %s.%s: %w", database, name, err)
	}
	return decodeTable(def, database, name)
}

func (c *SQLite) DeleteTable(ctx context.Context, database, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"DELETE FROM tables WHERE database_name = ? AND name = ?", database, name)
	if err != nil {
		return fmt.Errorf("catalog: failed to delete table %s.%s: %w", database, name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s.%s", ErrTableNotFound, database, name)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM partitions WHERE database_name = ? AND table_name = ?",
		database, name); err != nil {
		return fmt.Errorf("catalog: failed to delete partitions of %s.%s: %w", database, name, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit table delete: %w", err)
	}
	return nil
}

func (c *SQLite) ListTables(ctx context.Context, database, prefix string) ([]*Table, error) {
	rows, err := c.readDB.QueryContext(ctx,
		"SELECT name, definition FROM tables WHERE database_name = ? ORDER BY name",
		database)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list tables in %s: %w", database, err)
	}
	defer rows.Close()

	var tables []*Table
	for rows.Next() {
		var name, def string
		if err := rows.Scan(&name, &def); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan table row: %w", err)
		}
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		t, err := decodeTable(def, database, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (c *SQLite) Partitions(database, table string) PartitionPager {
	return &sqlitePartitionPager{
		catalog:  c,
		database: database,
		table:    table,
	}
}

// sqlitePartitionPager pages by value_key rather than OFFSET so that rows
// deleted between page fetches cannot shift later pages and skip partitions.
type sqlitePartitionPager struct {
	catalog  *SQLite
	database string
	table    string

	lastKey string
	done    bool
}

func (p *sqlitePartitionPager) HasMorePages() bool {
	return !p.done
}

func (p *sqlitePartitionPager) NextPage(ctx context.Context) ([]Partition, error) {
	if p.done {
		return nil, nil
	}

	rows, err := p.catalog.readDB.QueryContext(ctx,
		`SELECT value_key, definition FROM partitions
		 WHERE database_name = ? AND table_name = ? AND value_key > ?
		 ORDER BY value_key LIMIT ?`,
		p.database, p.table, p.lastKey, sqlitePageSize)
	if err != nil {
		return nil, fmt.Errorf("catalog: failed to list partitions of %s.%s: %w", p.database, p.table, err)
	}
	defer rows.Close()

	var page []Partition
	for rows.Next() {
		var key, def string
		if err := rows.Scan(&key, &def); err != nil {
			return nil, fmt.Errorf("catalog: failed to scan partition row: %w", err)
		}
		var part Partition
		if err := json.Unmarshal([]byte(def), &part); err != nil {
			return nil, fmt.Errorf("catalog: failed to decode partition of %s.%s: %w", p.database, p.table, err)
		}
		page = append(page, part)
		p.lastKey = key
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: failed to read partition rows: %w", err)
	}

	if len(page) < sqlitePageSize {
		p.done = true
	}
	return page, nil
}

func (c *SQLite) BatchCreatePartitions(ctx context.Context, database, table string, parts []PartitionInput) error {
	if len(parts) == 0 {
		return nil
	}
	if err := checkBatch("create", len(parts), MaxBatchCreate); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkTableLocked(ctx, database, table); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	stmt := tx.StmtContext(ctx, c.insertPartitionStmt)
	for _, in := range parts {
		part := Partition{
			Database:     database,
			Table:        table,
			Values:       in.Values,
			CreationTime: now,
			Parameters:   in.Parameters,
			Storage:      in.Storage,
		}
		def, err := json.Marshal(part)
		if err != nil {
			return fmt.Errorf("catalog: failed to encode partition: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, database, table, ValueKey(in.Values), string(def)); err != nil {
			return fmt.Errorf("catalog: failed to insert partition: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit partition batch: %w", err)
	}
	return nil
}

func (c *SQLite) BatchDeletePartitions(ctx context.Context, database, table string, values [][]string) error {
	if len(values) == 0 {
		return nil
	}
	if err := checkBatch("delete", len(values), MaxBatchDelete); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkTableLocked(ctx, database, table); err != nil {
		return err
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, v := range values {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM partitions WHERE database_name = ? AND table_name = ? AND value_key = ?",
			database, table, ValueKey(v)); err != nil {
			return fmt.Errorf("catalog: failed to delete partition: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: failed to commit partition delete: %w", err)
	}
	return nil
}

func (c *SQLite) checkTableLocked(ctx context.Context, database, table string) error {
	var one int
	err := c.db.QueryRowContext(ctx,
		"SELECT 1 FROM tables WHERE database_name = ? AND name = ?",
		database, table).Scan(&one)
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w: %s.%s", ErrTableNotFound, database, table)
	}
	if err != nil {
		return fmt.Errorf("catalog: failed to check table %s.%s: %w", database, table, err)
	}
	return nil
}

// Close closes both database connections.
func (c *SQLite) Close() error {
	if c.insertPartitionStmt != nil {
		c.insertPartitionStmt.Close()
	}
	if c.readDB != nil {
		c.readDB.Close()
	}
	return c.db.Close()
}

func decodeTable(def, database, name string) (*Table, error) {
	var t Table
	if err := json.Unmarshal([]byte(def), &t); err != nil {
		return nil, fmt.Errorf("catalog: failed to decode table %s.%s: %w", database, name, err)
	}
	return &t, nil
}
