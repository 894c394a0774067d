package deltasync

import (
	"errors"
	"fmt"
)

// ErrAlreadyRunning is returned when a second Run is requested for an
// entity type whose crawl is still executing. Runs are never
// interleaved; the caller retries on its next trigger.
var ErrAlreadyRunning = errors.New("sync already running for this entity type")

// PersistenceError reports that a checkpoint, hash, or mirror write
// failed. Fatal to the current run; because checkpoints only advance on
// fully processed pages, resuming from the last cursor is always safe.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
