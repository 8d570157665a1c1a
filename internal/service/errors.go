package service

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrPartnerUnreachable means a relay to a human partner failed; the pair is torn down.
	ErrPartnerUnreachable = errors.New("partner unreachable")

	// ErrBackendFailure means the automation backend could not produce a reply.
	ErrBackendFailure = errors.New("automation backend failure")

	// ErrStoreConflict is returned once the bounded retries on concurrent writes are exhausted.
	ErrStoreConflict = errors.New("store transaction conflict")

	// Transport failures. Both are final for the affected delivery.
	ErrUnreachable = errors.New("user unreachable")
	ErrBadRequest  = errors.New("malformed payload")
)

const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// isRetryableStoreError reports whether err is a postgres concurrency abort that is
// safe to retry from the start of the transaction.
func isRetryableStoreError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	return false
}

// isTransportFailure reports whether err means the user cannot be reached.
func isTransportFailure(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, ErrBadRequest)
}
