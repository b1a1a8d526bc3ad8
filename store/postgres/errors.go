package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/warp/travel-ledger/ledger"
)

const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// translateDBErr maps driver errors onto the ledger sentinels.
func translateDBErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.ErrKeyNotFound
	}

	var pge *pgconn.PgError
	if errors.As(err, &pge) {
		switch pge.Code {
		case serializationFailure, deadlockDetected:
			return fmt.Errorf("%w: %s", ledger.ErrConcurrentModification, pge.Message)
		}
	}

	return err
}
