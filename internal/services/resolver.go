package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
)

// Resolver turns kind tags into loaders and display parties.
type Resolver struct {
	store store.Store
}

func NewResolver(st store.Store) *Resolver {
	return &Resolver{store: st}
}

// ResolveKind maps a persisted party kind tag to its kind.
func (r *Resolver) ResolveKind(tag int) (models.EntityKind, error) {
	return models.ParsePartyKind(tag)
}

// LoaderFor returns the fetch function for kind inside tx. Missing rows
// surface as errors matching ledger.ErrUnresolved.
func (r *Resolver) LoaderFor(tx store.Tx, kind models.EntityKind) (ledger.Loader[models.Entity], error) {
	if _, ok := models.LedgerFields[kind]; !ok && kind != models.KindMessage {
		return nil, &models.UnknownKindError{Tag: int(kind)}
	}
	return func(ctx context.Context, id int64) (models.Entity, error) {
		return tx.Get(ctx, models.Ref{Kind: kind, ID: id})
	}, nil
}

// Lookup loads a party addressed by its persisted kind tag.
func (r *Resolver) Lookup(ctx context.Context, tag int, id int64) (models.Entity, error) {
	kind, err := r.ResolveKind(tag)
	if err != nil {
		return nil, err
	}
	var e models.Entity
	err = store.WithTx(ctx, r.store, func(tx store.Tx) error {
		load, err := r.LoaderFor(tx, kind)
		if err != nil {
			return err
		}
		e, err = load(ctx, id)
		return err
	})
	if err != nil {
		return nil, missing(err, ErrPartyNotFound.withDetail("%s %d", kind, id))
	}
	return e, nil
}

// Party returns the display form of ref, or the unknown placeholder when
// ref no longer resolves.
func (r *Resolver) Party(ctx context.Context, tx store.Tx, ref models.Ref) (models.Party, error) {
	party := models.Party{Kind: ref.Kind, ID: ref.ID}
	load, err := r.LoaderFor(tx, ref.Kind)
	if err != nil {
		return party, err
	}
	e, err := load(ctx, ref.ID)
	if errors.Is(err, ledger.ErrUnresolved) {
		party.Name = models.UnknownPartyName
		party.Unknown = true
		return party, nil
	}
	if err != nil {
		return party, fmt.Errorf("loading %s: %w", ref, err)
	}
	party.Name = displayName(e)
	return party, nil
}

func displayName(e models.Entity) string {
	switch v := e.(type) {
	case *models.User:
		return v.DisplayName
	case models.Community:
		return v.Title()
	case *models.Chat:
		return v.Title
	}
	return e.Ref().String()
}

func typed[T models.Entity](e models.Entity, ref models.Ref) (T, error) {
	t, ok := e.(T)
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s: unexpected entity %T", ref, e)
	}
	return t, nil
}

// getAs loads ref and asserts its concrete type.
func getAs[T models.Entity](ctx context.Context, tx store.Tx, ref models.Ref) (T, error) {
	e, err := tx.Get(ctx, ref)
	if err != nil {
		var zero T
		return zero, err
	}
	return typed[T](e, ref)
}

// saveLedger writes field of e back through tx.
func saveLedger(ctx context.Context, tx store.Tx, e models.Entity, field ledger.Field) error {
	value, ok := e.Ledger(field)
	if !ok {
		return &ledger.CapabilityError{Kind: e.KindName(), Field: field}
	}
	return tx.SaveLedger(ctx, e.Ref(), field, *value)
}

// addAndSave adds id to field of e and persists the field when it changed.
func addAndSave(ctx context.Context, tx store.Tx, e models.Entity, field ledger.Field, id int64) (bool, error) {
	added, err := ledger.Add(e, field, id)
	if err != nil || !added {
		return added, err
	}
	return true, saveLedger(ctx, tx, e, field)
}

// removeAndSave removes id from field of e and persists the field when it
// changed.
func removeAndSave(ctx context.Context, tx store.Tx, e models.Entity, field ledger.Field, id int64) (bool, error) {
	_, removed, err := ledger.Remove(e, field, id)
	if err != nil || !removed {
		return removed, err
	}
	return true, saveLedger(ctx, tx, e, field)
}
