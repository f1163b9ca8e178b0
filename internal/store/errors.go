package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// Callers match these with errors.Is; messages carry the entity and key.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)

// notFound turns sql.ErrNoRows into ErrNotFound naming what was missing.
// Other errors pass through untouched.
func notFound(err error, entity, key string) error {
	if !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if key == "" {
		return fmt.Errorf("%s: %w", entity, ErrNotFound)
	}
	return fmt.Errorf("%s %q: %w", entity, key, ErrNotFound)
}
