package storage

import (
	"database/sql"
	"time"
)

// UpsertRecord writes one mirrored portal record, clearing any previous
// soft-delete mark.
func (s *Store) UpsertRecord(entityType, entityID, payloadJSON string) error {
	_, err := s.db.Exec(`
		INSERT INTO mirror_records (entity_type, entity_id, payload_json, synced_at, deleted_at)
		VALUES (?, ?, ?, ?, '')
		ON CONFLICT(entity_type, entity_id) DO UPDATE SET
			payload_json = excluded.payload_json,
			synced_at = excluded.synced_at,
			deleted_at = ''`,
		entityType, entityID, payloadJSON, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// SoftDeleteRecord marks a mirrored record as deleted upstream. The row
// is kept for reads; a later re-appearance upstream clears the mark.
func (s *Store) SoftDeleteRecord(entityType, entityID string) error {
	res, err := s.db.Exec(`UPDATE mirror_records SET deleted_at = ? WHERE entity_type = ? AND entity_id = ? AND deleted_at = ''`,
		time.Now().UTC().Format(time.RFC3339), entityType, entityID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRecord returns one mirrored record's payload. Soft-deleted records
// are still readable; deleted reports the mark.
func (s *Store) GetRecord(entityType, entityID string) (payloadJSON string, deleted bool, err error) {
	var deletedAt string
	err = s.db.QueryRow(`SELECT payload_json, deleted_at FROM mirror_records WHERE entity_type = ? AND entity_id = ?`,
		entityType, entityID).Scan(&payloadJSON, &deletedAt)
	if err == sql.ErrNoRows {
		return "", false, ErrNotFound
	}
	if err != nil {
		return "", false, err
	}
	return payloadJSON, deletedAt != "", nil
}

// CountRecords returns the number of live (non-deleted) mirrored records
// for one entity type.
func (s *Store) CountRecords(entityType string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM mirror_records WHERE entity_type = ? AND deleted_at = ''`,
		entityType).Scan(&n)
	return n, err
}
