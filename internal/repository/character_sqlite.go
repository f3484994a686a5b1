package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"swapi-archive/internal/logger"

	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteCharacterRepository implements CharacterRepository using SQLite.
// Thread-safe with WAL mode; snapshot replacement is the single writer.
type SQLiteCharacterRepository struct {
	*sqlCharacterStore
}

// NewSQLiteCharacterRepository opens (or creates) the database file at dbPath.
// dbPath is e.g. "./data/starwars.db"; ":memory:" is accepted for tests.
func NewSQLiteCharacterRepository(dbPath string, log *zap.Logger) (*SQLiteCharacterRepository, error) {
	log = logger.OrNop(log).Named("sqlite")

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports 1 writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0) // Keep connection alive

	if err := createSQLiteTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Info("initialized", zap.String("path", dbPath))
	return &SQLiteCharacterRepository{&sqlCharacterStore{
		db:     db,
		engine: "sqlite",
		logger: log,
		mu:     &sync.RWMutex{},
	}}, nil
}

func createSQLiteTables(db *sqlx.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS characters (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		birth_year TEXT,
		eye_color TEXT,
		gender TEXT,
		hair_color TEXT,
		mass TEXT,
		skin_color TEXT,
		homeworld TEXT,
		films TEXT,
		species TEXT,
		starships TEXT,
		vehicles TEXT
	);
	`
	_, err := db.Exec(query)
	return err
}

// GetStats adds the database file size to the common statistics.
func (r *SQLiteCharacterRepository) GetStats(ctx context.Context) (map[string]interface{}, error) {
	stats, err := r.sqlCharacterStore.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	// Database file size (approximate from page count)
	var pageCount, pageSize int64
	if err := r.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		if err := r.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err == nil {
			stats["db_size_bytes"] = pageCount * pageSize
		}
	}
	return stats, nil
}

// Ensure SQLiteCharacterRepository implements CharacterRepository
var _ CharacterRepository = (*SQLiteCharacterRepository)(nil)
