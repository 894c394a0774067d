package storage

import (
	"database/sql"
	"time"
)

// GetHash returns the stored content hash for one entity.
func (s *Store) GetHash(entityType, entityID string) (string, error) {
	var hash string
	err := s.db.QueryRow(`SELECT hash FROM delta_hashes WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID).Scan(&hash)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return hash, err
}

// SetHash upserts the content hash for one entity and refreshes its
// last_synced_at timestamp.
func (s *Store) SetHash(entityType, entityID, hash string) error {
	_, err := s.db.Exec(`
		INSERT INTO delta_hashes (entity_type, entity_id, hash, last_synced_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			hash = excluded.hash,
			last_synced_at = excluded.last_synced_at`,
		entityType, entityID, hash, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// DeleteHash removes the stored hash for one entity. Deleting a hash
// that does not exist is not an error.
func (s *Store) DeleteHash(entityType, entityID string) error {
	_, err := s.db.Exec(`DELETE FROM delta_hashes WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID)
	return err
}

// KnownIDs returns every entity id that has a stored hash for the given
// entity type. The delta engine diffs this set against the ids seen in
// a full crawl to find deletions.
func (s *Store) KnownIDs(entityType string) ([]string, error) {
	rows, err := s.db.Query(`SELECT entity_id FROM delta_hashes WHERE entity_type = ? ORDER BY entity_id`, entityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
