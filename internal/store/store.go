// Package store defines the unit-of-work boundary the services run in.
// Implementations live in the memory and postgres subpackages.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/models"
)

var (
	// ErrNotFound matches ledger.ErrUnresolved so store lookups can be used
	// directly as ledger loaders.
	ErrNotFound     = fmt.Errorf("store: record not found: %w", ledger.ErrUnresolved)
	ErrDuplicateKey = errors.New("store: duplicate key")
	ErrTxDone       = errors.New("store: transaction already finished")
)

// Store opens transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single unit of work. Entities returned from Get and Lock are
// detached copies: changes reach the store only through SaveLedger, Insert
// and the other write methods.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Get(ctx context.Context, ref models.Ref) (models.Entity, error)
	// Lock is Get plus a write lock on the row held until the transaction
	// ends.
	Lock(ctx context.Context, ref models.Ref) (models.Entity, error)
	SaveLedger(ctx context.Context, ref models.Ref, field ledger.Field, value string) error
	// Insert stores e and assigns its ID.
	Insert(ctx context.Context, e models.Entity) error
	Delete(ctx context.Context, ref models.Ref) error

	FindPersonalChat(ctx context.Context, key string) (*models.Chat, error)
	SetUserBlocked(ctx context.Context, userID int64, blocked bool) error
	// SetAdmin replaces the admin of a group, course or chat.
	SetAdmin(ctx context.Context, ref models.Ref, userID int64) error
	// Scan returns up to limit entities of kind with ID > afterID in ID
	// order.
	Scan(ctx context.Context, kind models.EntityKind, afterID int64, limit int) ([]models.Entity, error)
}

// LockAll locks refs in canonical order and returns the entities keyed by
// ref. Repeated refs are locked once.
func LockAll(ctx context.Context, tx Tx, refs ...models.Ref) (map[models.Ref]models.Entity, error) {
	return lockSorted(ctx, tx, refs, false)
}

// LockPresent is LockAll for refs that may have been deleted. Missing rows
// are left out of the result instead of failing the call.
func LockPresent(ctx context.Context, tx Tx, refs ...models.Ref) (map[models.Ref]models.Entity, error) {
	return lockSorted(ctx, tx, refs, true)
}

func lockSorted(ctx context.Context, tx Tx, refs []models.Ref, skipMissing bool) (map[models.Ref]models.Entity, error) {
	ordered := make([]models.Ref, 0, len(refs))
	seen := make(map[models.Ref]struct{}, len(refs))
	for _, ref := range refs {
		if _, ok := seen[ref]; ok {
			continue
		}
		seen[ref] = struct{}{}
		ordered = append(ordered, ref)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Less(ordered[j]) })

	locked := make(map[models.Ref]models.Entity, len(ordered))
	for _, ref := range ordered {
		e, err := tx.Lock(ctx, ref)
		if skipMissing && errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("locking %s: %w", ref, err)
		}
		locked[ref] = e
	}
	return locked, nil
}

// WithTx runs fn inside a transaction, committing when fn returns nil and
// rolling back otherwise.
func WithTx(ctx context.Context, s Store, fn func(tx Tx) error) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	committed = true
	return nil
}
