package storage

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrIntegrity is returned when a write violates a database constraint
// (missing foreign key, duplicate primary key, CHECK failure). The caller
// decides whether to retry.
var ErrIntegrity = errors.New("storage: integrity violation")

// wrapWriteErr maps SQLite constraint failures onto ErrIntegrity so
// callers can branch with errors.Is without depending on driver types.
func wrapWriteErr(action string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "constraint") || strings.Contains(msg, "foreign key") {
		return fmt.Errorf("storage: %s: %w: %v", action, ErrIntegrity, err)
	}
	return fmt.Errorf("storage: %s: %w", action, err)
}
