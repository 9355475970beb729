// Package memory is an in-process store. A transaction holds the store
// mutex from Begin until Commit or Rollback, so transactions are serial.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
)

type Store struct {
	mu     sync.Mutex
	tables map[models.EntityKind]map[int64]models.Entity
	seq    map[models.EntityKind]int64
	now    func() time.Time
}

func New() *Store {
	return &Store{
		tables: make(map[models.EntityKind]map[int64]models.Entity),
		seq:    make(map[models.EntityKind]int64),
		now:    time.Now,
	}
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &tx{
		s:       s,
		dirty:   make(map[models.Ref]models.Entity),
		deleted: make(map[models.Ref]bool),
	}, nil
}

// Count returns the number of committed rows of kind.
func (s *Store) Count(kind models.EntityKind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tables[kind])
}

type tx struct {
	s       *Store
	dirty   map[models.Ref]models.Entity
	deleted map[models.Ref]bool
	done    bool
}

func (t *tx) finish() error {
	if t.done {
		return store.ErrTxDone
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.done {
		return store.ErrTxDone
	}
	for ref := range t.deleted {
		delete(t.s.tables[ref.Kind], ref.ID)
	}
	for ref, e := range t.dirty {
		table, ok := t.s.tables[ref.Kind]
		if !ok {
			table = make(map[int64]models.Entity)
			t.s.tables[ref.Kind] = table
		}
		table[ref.ID] = e
	}
	return t.finish()
}

func (t *tx) Rollback(ctx context.Context) error {
	return t.finish()
}

// view returns the transaction's current version of ref without copying.
func (t *tx) view(ref models.Ref) (models.Entity, bool) {
	if t.deleted[ref] {
		return nil, false
	}
	if e, ok := t.dirty[ref]; ok {
		return e, true
	}
	e, ok := t.s.tables[ref.Kind][ref.ID]
	return e, ok
}

func (t *tx) Get(ctx context.Context, ref models.Ref) (models.Entity, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	e, ok := t.view(ref)
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(e), nil
}

// Lock is Get: the whole store is already held by the transaction.
func (t *tx) Lock(ctx context.Context, ref models.Ref) (models.Entity, error) {
	return t.Get(ctx, ref)
}

// writable returns a private copy of ref registered in the dirty set.
func (t *tx) writable(ref models.Ref) (models.Entity, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	if e, ok := t.dirty[ref]; ok && !t.deleted[ref] {
		return e, nil
	}
	e, ok := t.view(ref)
	if !ok {
		return nil, store.ErrNotFound
	}
	e = clone(e)
	t.dirty[ref] = e
	return e, nil
}

func (t *tx) SaveLedger(ctx context.Context, ref models.Ref, field ledger.Field, value string) error {
	if _, err := ledger.Decode(value); err != nil {
		return err
	}
	e, err := t.writable(ref)
	if err != nil {
		return err
	}
	slot, ok := e.Ledger(field)
	if !ok {
		return &ledger.CapabilityError{Kind: e.KindName(), Field: field}
	}
	*slot = value
	return nil
}

func (t *tx) Insert(ctx context.Context, e models.Entity) error {
	if t.done {
		return store.ErrTxDone
	}
	kind := e.Ref().Kind
	if err := t.checkUnique(e); err != nil {
		return err
	}
	t.s.seq[kind]++
	id := t.s.seq[kind]
	assign(e, id, t.s.now().UTC())
	t.dirty[models.Ref{Kind: kind, ID: id}] = clone(e)
	return nil
}

func (t *tx) checkUnique(e models.Entity) error {
	switch v := e.(type) {
	case *models.User:
		for _, other := range t.all(models.KindUser) {
			if other.(*models.User).Email == v.Email {
				return fmt.Errorf("user email %q: %w", v.Email, store.ErrDuplicateKey)
			}
		}
	case *models.Chat:
		if v.PersonalKey == "" {
			return nil
		}
		for _, other := range t.all(models.KindChat) {
			if other.(*models.Chat).PersonalKey == v.PersonalKey {
				return fmt.Errorf("personal chat %q: %w", v.PersonalKey, store.ErrDuplicateKey)
			}
		}
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, ref models.Ref) error {
	if t.done {
		return store.ErrTxDone
	}
	if _, ok := t.view(ref); !ok {
		return store.ErrNotFound
	}
	delete(t.dirty, ref)
	t.deleted[ref] = true
	return nil
}

func (t *tx) FindPersonalChat(ctx context.Context, key string) (*models.Chat, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	for _, e := range t.all(models.KindChat) {
		chat := e.(*models.Chat)
		if chat.Type == models.ChatPersonal && chat.PersonalKey == key {
			return clone(chat).(*models.Chat), nil
		}
	}
	return nil, store.ErrNotFound
}

func (t *tx) SetUserBlocked(ctx context.Context, userID int64, blocked bool) error {
	e, err := t.writable(models.UserRef(userID))
	if err != nil {
		return err
	}
	e.(*models.User).Blocked = blocked
	return nil
}

func (t *tx) SetAdmin(ctx context.Context, ref models.Ref, userID int64) error {
	if !ref.Kind.IsCommunity() && ref.Kind != models.KindChat {
		return fmt.Errorf("memory: %s has no admin", ref)
	}
	e, err := t.writable(ref)
	if err != nil {
		return err
	}
	switch v := e.(type) {
	case *models.Group:
		v.Admin = userID
	case *models.Course:
		v.Admin = userID
	case *models.Chat:
		v.Admin = userID
	}
	return nil
}

func (t *tx) Scan(ctx context.Context, kind models.EntityKind, afterID int64, limit int) ([]models.Entity, error) {
	if t.done {
		return nil, store.ErrTxDone
	}
	var out []models.Entity
	for _, e := range t.all(kind) {
		if e.Ref().ID > afterID {
			out = append(out, clone(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ref().ID < out[j].Ref().ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// all returns the transaction's view of every row of kind.
func (t *tx) all(kind models.EntityKind) []models.Entity {
	out := make([]models.Entity, 0, len(t.s.tables[kind]))
	for id, e := range t.s.tables[kind] {
		ref := models.Ref{Kind: kind, ID: id}
		if t.deleted[ref] {
			continue
		}
		if d, ok := t.dirty[ref]; ok {
			e = d
		}
		out = append(out, e)
	}
	for ref, e := range t.dirty {
		if ref.Kind != kind {
			continue
		}
		if _, committed := t.s.tables[kind][ref.ID]; !committed {
			out = append(out, e)
		}
	}
	return out
}

func clone(e models.Entity) models.Entity {
	switch v := e.(type) {
	case *models.User:
		c := *v
		return &c
	case *models.Group:
		c := *v
		return &c
	case *models.Course:
		c := *v
		return &c
	case *models.Chat:
		c := *v
		return &c
	case *models.Message:
		c := *v
		return &c
	case *models.Alert:
		c := *v
		return &c
	}
	panic(fmt.Sprintf("memory: unsupported entity %T", e))
}

func assign(e models.Entity, id int64, now time.Time) {
	switch v := e.(type) {
	case *models.User:
		v.ID = id
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
	case *models.Group:
		v.ID = id
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
	case *models.Course:
		v.ID = id
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
	case *models.Chat:
		v.ID = id
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
	case *models.Message:
		v.ID = id
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
	case *models.Alert:
		v.ID = id
		if v.CreatedAt.IsZero() {
			v.CreatedAt = now
		}
	default:
		panic(fmt.Sprintf("memory: unsupported entity %T", e))
	}
}
