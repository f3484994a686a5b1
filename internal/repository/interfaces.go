package repository

import (
	"context"

	"swapi-archive/internal/model"
)

// SnapshotWriter replaces the stored snapshot as a whole.
type SnapshotWriter interface {
	// ReplaceAll deletes every stored character and inserts records within one
	// transaction. Readers see either the old or the new snapshot, never a mix.
	ReplaceAll(ctx context.Context, records []model.Character) error
}

// CharacterRepository defines character snapshot data access methods.
type CharacterRepository interface {
	SnapshotWriter

	// ListCharacters returns one page of characters ordered by id, plus the total count.
	ListCharacters(ctx context.Context, limit, offset int) ([]model.Character, int64, error)

	// GetCharacter returns the character with the given id, or nil when absent.
	GetCharacter(ctx context.Context, id int64) (*model.Character, error)

	// GetStats returns statistics about the snapshot store.
	GetStats(ctx context.Context) (map[string]interface{}, error)

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error

	// Close closes the repository connection.
	Close() error
}
