package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Field names a relation attribute on an entity.
type Field string

// Holder is implemented by every entity that owns relation fields. Ledger
// returns a pointer to the persisted value of f, or false when the entity
// does not declare f.
type Holder interface {
	KindName() string
	Ledger(f Field) (*string, bool)
}

// CapabilityError reports an operation on a field the entity kind does not
// declare. It always indicates a programming error in the caller.
type CapabilityError struct {
	Kind  string
	Field Field
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("ledger: %s has no relation field %q", e.Kind, e.Field)
}

// ErrUnresolved is returned by loaders for ids that no longer resolve.
var ErrUnresolved = errors.New("ledger: id does not resolve")

func slot(h Holder, field Field) (*string, error) {
	value, ok := h.Ledger(field)
	if !ok || value == nil {
		return nil, &CapabilityError{Kind: h.KindName(), Field: field}
	}
	return value, nil
}

// Load decodes the named field of h.
func Load(h Holder, field Field) (*Set, error) {
	value, err := slot(h, field)
	if err != nil {
		return nil, err
	}
	return ParseSet(*value)
}

// Store writes set back into the named field of h.
func Store(h Holder, field Field, set *Set) error {
	value, err := slot(h, field)
	if err != nil {
		return err
	}
	*value = set.String()
	return nil
}

// Add inserts id into the field and reports whether an insertion happened.
// Non-positive ids are rejected without touching the field.
func Add(h Holder, field Field, id int64) (bool, error) {
	value, err := slot(h, field)
	if err != nil {
		return false, err
	}
	if id <= 0 {
		return false, nil
	}
	set, err := ParseSet(*value)
	if err != nil {
		return false, err
	}
	if !set.Add(id) {
		return false, nil
	}
	*value = set.String()
	return true, nil
}

// Remove deletes id from the field. It returns the new encoding and true,
// or the current encoding and false when id was not present.
func Remove(h Holder, field Field, id int64) (string, bool, error) {
	value, err := slot(h, field)
	if err != nil {
		return "", false, err
	}
	set, err := ParseSet(*value)
	if err != nil {
		return "", false, err
	}
	if !set.Remove(id) {
		return *value, false, nil
	}
	*value = set.String()
	return *value, true, nil
}

// IDs decodes the field without resolving anything.
func IDs(h Holder, field Field) ([]int64, error) {
	set, err := Load(h, field)
	if err != nil {
		return nil, err
	}
	return set.IDs(), nil
}

// Loader fetches the entity behind an id. Implementations return an error
// matching ErrUnresolved when the id no longer exists.
type Loader[T any] func(ctx context.Context, id int64) (T, error)

// Resolve loads every id in order, dropping ids whose target is gone.
func Resolve[T any](ctx context.Context, ids []int64, load Loader[T]) ([]T, error) {
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		item, err := load(ctx, id)
		if errors.Is(err, ErrUnresolved) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("resolving id %d: %w", id, err)
		}
		out = append(out, item)
	}
	return out, nil
}
