package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"swapi-archive/internal/model"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

const characterSelect = `SELECT id, name, birth_year, eye_color, gender, hair_color, mass,
	skin_color, homeworld, films, species, starships, vehicles FROM characters`

const characterInsert = `INSERT INTO characters
	(id, name, birth_year, eye_color, gender, hair_color, mass, skin_color, homeworld, films, species, starships, vehicles)
	VALUES (:id, :name, :birth_year, :eye_color, :gender, :hair_color, :mass, :skin_color, :homeworld, :films, :species, :starships, :vehicles)`

// sqlCharacterStore holds the statements shared by the database/sql engines.
// Queries are written with '?' placeholders and rebound for the driver.
type sqlCharacterStore struct {
	db     *sqlx.DB
	engine string
	logger *zap.Logger

	// mu serializes snapshot replacement against reads for engines that
	// only allow a single writer.
	mu           *sync.RWMutex
	lastReplaced atomic.Int64
}

func (s *sqlCharacterStore) lock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *sqlCharacterStore) rlock() func() {
	if s.mu == nil {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

// ReplaceAll swaps the whole snapshot inside one transaction.
func (s *sqlCharacterStore) ReplaceAll(ctx context.Context, records []model.Character) error {
	unlock := s.lock()
	defer unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM characters"); err != nil {
		return fmt.Errorf("failed to clear characters: %w", err)
	}

	stmt, err := tx.PrepareNamedContext(ctx, characterInsert)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for i := range records {
		if _, err := stmt.ExecContext(ctx, &records[i]); err != nil {
			return fmt.Errorf("failed to insert character %d: %w", records[i].ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	s.lastReplaced.Store(time.Now().UnixNano())
	s.logger.Info("snapshot replaced", zap.Int("records", len(records)))
	return nil
}

// ListCharacters returns one page of characters ordered by id.
func (s *sqlCharacterStore) ListCharacters(ctx context.Context, limit, offset int) ([]model.Character, int64, error) {
	unlock := s.rlock()
	defer unlock()

	var total int64
	if err := s.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM characters"); err != nil {
		return nil, 0, fmt.Errorf("failed to count characters: %w", err)
	}

	characters := make([]model.Character, 0, limit)
	query := s.db.Rebind(characterSelect + " ORDER BY id LIMIT ? OFFSET ?")
	if err := s.db.SelectContext(ctx, &characters, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to list characters: %w", err)
	}

	return characters, total, nil
}

// GetCharacter returns the character with the given id, or nil when absent.
func (s *sqlCharacterStore) GetCharacter(ctx context.Context, id int64) (*model.Character, error) {
	unlock := s.rlock()
	defer unlock()

	var c model.Character
	if err := s.db.GetContext(ctx, &c, s.db.Rebind(characterSelect+" WHERE id = ?"), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get character: %w", err)
	}
	return &c, nil
}

// GetStats returns the row count and the time of the last replace.
func (s *sqlCharacterStore) GetStats(ctx context.Context) (map[string]interface{}, error) {
	unlock := s.rlock()
	defer unlock()

	stats := map[string]interface{}{"engine": s.engine}

	var count int64
	if err := s.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM characters"); err != nil {
		return nil, err
	}
	stats["total_characters"] = count

	if ns := s.lastReplaced.Load(); ns > 0 {
		stats["last_replaced_at"] = time.Unix(0, ns).UTC()
	}

	dbStats := s.db.Stats()
	stats["open_connections"] = dbStats.OpenConnections
	stats["in_use_connections"] = dbStats.InUse

	return stats, nil
}

// Ping checks that the database is reachable.
func (s *sqlCharacterStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *sqlCharacterStore) Close() error {
	return s.db.Close()
}
