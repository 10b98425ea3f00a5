package repository

import (
	"errors"

	"github.com/lib/pq"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrDatabase = errors.New("database error")
	// ErrStaleState means a compare-and-set update matched no row because
	// another writer changed the state first.
	ErrStaleState = errors.New("record was modified concurrently")
	// ErrUsageLimitReached means the atomic coupon increment matched no row
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrDuplicate means a unique constraint rejected the insert
	ErrDuplicate = errors.New("duplicate record")
)

const pqUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation
}
