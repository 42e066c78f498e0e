package storage

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// WithTransaction runs fn inside one transaction. The transaction is
// rolled back when fn returns an error or panics, committed otherwise.
func WithTransaction(ctx context.Context, store Store, fn func(tx Store) error) (err error) {
	tx, err := store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	finished := false
	defer func() {
		if p := recover(); p != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Rollback after panic failed")
			}
			panic(p)
		}
		if err != nil && !finished {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Rollback failed")
			}
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}

	finished = true
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
