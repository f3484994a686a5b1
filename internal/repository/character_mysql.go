package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"swapi-archive/internal/logger"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// MySQLCharacterRepository implements CharacterRepository using MySQL.
type MySQLCharacterRepository struct {
	*sqlCharacterStore
}

// NewMySQLCharacterRepository creates a new MySQL character repository.
// dsn format: "user:password@tcp(host:port)/dbname?parseTime=true"
func NewMySQLCharacterRepository(dsn string, log *zap.Logger) (*MySQLCharacterRepository, error) {
	log = logger.OrNop(log).Named("mysql")

	db, err := sqlx.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping MySQL: %w", err)
	}

	if err := createMySQLTables(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	log.Info("initialized")
	return &MySQLCharacterRepository{&sqlCharacterStore{
		db:     db,
		engine: "mysql",
		logger: log,
	}}, nil
}

// createMySQLTables runs one statement per Exec; the driver rejects
// multi-statement strings unless multiStatements is set.
func createMySQLTables(ctx context.Context, db *sqlx.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS characters (
		id BIGINT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
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
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`
	_, err := db.ExecContext(ctx, query)
	return err
}

// Ensure MySQLCharacterRepository implements CharacterRepository
var _ CharacterRepository = (*MySQLCharacterRepository)(nil)
