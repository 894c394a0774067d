package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// GetCheckpoint returns the crawl checkpoint for one entity type.
func (s *Store) GetCheckpoint(entityType string) (Checkpoint, error) {
	var cp Checkpoint
	var status, lastSuccessAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT entity_type, cursor, status, last_error, last_success_at, updated_at
		FROM checkpoints WHERE entity_type = ?`, entityType,
	).Scan(&cp.EntityType, &cp.Cursor, &status, &cp.LastError, &lastSuccessAt, &updatedAt)
	if err == sql.ErrNoRows {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, err
	}
	cp.Status = SyncStatus(status)
	if lastSuccessAt != "" {
		if cp.LastSuccessAt, err = time.Parse(time.RFC3339, lastSuccessAt); err != nil {
			return Checkpoint{}, fmt.Errorf("parsing last_success_at for %s: %w", entityType, err)
		}
	}
	if cp.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Checkpoint{}, fmt.Errorf("parsing updated_at for %s: %w", entityType, err)
	}
	return cp, nil
}

// SaveCheckpoint upserts the checkpoint for cp.EntityType.
func (s *Store) SaveCheckpoint(cp Checkpoint) error {
	lastSuccessAt := ""
	if !cp.LastSuccessAt.IsZero() {
		lastSuccessAt = cp.LastSuccessAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (entity_type, cursor, status, last_error, last_success_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type) DO UPDATE SET
			cursor = excluded.cursor,
			status = excluded.status,
			last_error = excluded.last_error,
			last_success_at = excluded.last_success_at,
			updated_at = excluded.updated_at`,
		cp.EntityType, cp.Cursor, string(cp.Status), cp.LastError, lastSuccessAt,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
