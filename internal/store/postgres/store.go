// Package postgres persists entities with pgx. Ledgers are TEXT columns in
// the semicolon-delimited encoding; Lock uses SELECT ... FOR UPDATE so a
// read-modify-write of a ledger holds the row until commit.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/HammerMeetNail/schoolhub/internal/ledger"
	"github.com/HammerMeetNail/schoolhub/internal/models"
	"github.com/HammerMeetNail/schoolhub/internal/store"
)

const uniqueViolation = "23505"

type Store struct {
	db DB
}

func New(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	conn, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return &tx{conn: conn}, nil
}

type tx struct {
	conn Conn
}

func (t *tx) Commit(ctx context.Context) error {
	return t.conn.Commit(ctx)
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.conn.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return store.ErrTxDone
	}
	return err
}

func (t *tx) Get(ctx context.Context, ref models.Ref) (models.Entity, error) {
	return t.fetch(ctx, ref, "")
}

func (t *tx) Lock(ctx context.Context, ref models.Ref) (models.Entity, error) {
	return t.fetch(ctx, ref, " FOR UPDATE")
}

func (t *tx) fetch(ctx context.Context, ref models.Ref, suffix string) (models.Entity, error) {
	tbl, err := tableFor(ref.Kind)
	if err != nil {
		return nil, err
	}
	row := t.conn.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = $1%s", tbl.columns, tbl.name, suffix),
		ref.ID,
	)
	e, err := tbl.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", ref, err)
	}
	return e, nil
}

func (t *tx) SaveLedger(ctx context.Context, ref models.Ref, field ledger.Field, value string) error {
	tbl, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	column, ok := tbl.ledgers[field]
	if !ok {
		return &ledger.CapabilityError{Kind: ref.Kind.String(), Field: field}
	}
	if _, err := ledger.Decode(value); err != nil {
		return err
	}

	result, err := t.conn.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET %s = $1 WHERE id = $2", tbl.name, column),
		value, ref.ID,
	)
	if err != nil {
		return fmt.Errorf("saving %s.%s: %w", ref, field, err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) Insert(ctx context.Context, e models.Entity) error {
	var row Row
	switch v := e.(type) {
	case *models.User:
		row = t.conn.QueryRow(ctx,
			`INSERT INTO users (display_name, email, password_hash, blocked, role, friends, chats, groups, courses, alerts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id, created_at`,
			v.DisplayName, v.Email, v.PasswordHash, v.Blocked, string(v.Role),
			v.Friends, v.Chats, v.Groups, v.Courses, v.Alerts,
		)
		return t.returning(row, e, &v.ID, &v.CreatedAt)
	case *models.Group:
		row = t.conn.QueryRow(ctx,
			`INSERT INTO groups (title, description, openness, admin_id, moderators, members, groups, courses, chats, alerts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			 RETURNING id, created_at`,
			v.Name, v.Description, string(v.Openness), v.Admin,
			v.Moderators, v.Members, v.Groups, v.Courses, v.Chats, v.Alerts,
		)
		return t.returning(row, e, &v.ID, &v.CreatedAt)
	case *models.Course:
		row = t.conn.QueryRow(ctx,
			`INSERT INTO courses (title, description, openness, admin_id, moderators, members, alerts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at`,
			v.Name, v.Description, string(v.Openness), v.Admin, v.Moderators, v.Members, v.Alerts,
		)
		return t.returning(row, e, &v.ID, &v.CreatedAt)
	case *models.Chat:
		row = t.conn.QueryRow(ctx,
			`INSERT INTO chats (type, title, admin_id, moderators, members, messages, personal_key)
			 VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''))
			 RETURNING id, created_at`,
			string(v.Type), v.Title, v.Admin, v.Moderators, v.Members, v.Messages, v.PersonalKey,
		)
		return t.returning(row, e, &v.ID, &v.CreatedAt)
	case *models.Message:
		row = t.conn.QueryRow(ctx,
			`INSERT INTO messages (chat_id, author_id, text)
			 VALUES ($1, $2, $3)
			 RETURNING id, created_at`,
			v.ChatID, v.AuthorID, v.Text,
		)
		return t.returning(row, e, &v.ID, &v.CreatedAt)
	case *models.Alert:
		row = t.conn.QueryRow(ctx,
			`INSERT INTO alerts (type, creator_id, creator_kind, recipients, recipient_kind, subject_id, text)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 RETURNING id, created_at`,
			int(v.Type), v.CreatorID, int(v.CreatorKind), v.Recipients, int(v.RecipientKind), v.SubjectID, v.Text,
		)
		return t.returning(row, e, &v.ID, &v.CreatedAt)
	}
	return fmt.Errorf("postgres: unsupported entity %T", e)
}

func (t *tx) returning(row Row, e models.Entity, dest ...any) error {
	if err := row.Scan(dest...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("inserting %s (%s): %w", e.KindName(), pgErr.ConstraintName, store.ErrDuplicateKey)
		}
		return fmt.Errorf("inserting %s: %w", e.KindName(), err)
	}
	return nil
}

func (t *tx) Delete(ctx context.Context, ref models.Ref) error {
	tbl, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	result, err := t.conn.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1", tbl.name), ref.ID)
	if err != nil {
		return fmt.Errorf("deleting %s: %w", ref, err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) FindPersonalChat(ctx context.Context, key string) (*models.Chat, error) {
	tbl := tables[models.KindChat]
	row := t.conn.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM chats WHERE type = 'personal' AND personal_key = $1", tbl.columns),
		key,
	)
	e, err := tbl.scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding personal chat: %w", err)
	}
	return e.(*models.Chat), nil
}

func (t *tx) SetUserBlocked(ctx context.Context, userID int64, blocked bool) error {
	result, err := t.conn.Exec(ctx, "UPDATE users SET blocked = $1 WHERE id = $2", blocked, userID)
	if err != nil {
		return fmt.Errorf("updating blocked flag: %w", err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) SetAdmin(ctx context.Context, ref models.Ref, userID int64) error {
	if !ref.Kind.IsCommunity() && ref.Kind != models.KindChat {
		return fmt.Errorf("postgres: %s has no admin", ref)
	}
	tbl, err := tableFor(ref.Kind)
	if err != nil {
		return err
	}
	result, err := t.conn.Exec(ctx, fmt.Sprintf("UPDATE %s SET admin_id = $1 WHERE id = $2", tbl.name), userID, ref.ID)
	if err != nil {
		return fmt.Errorf("updating admin of %s: %w", ref, err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (t *tx) Scan(ctx context.Context, kind models.EntityKind, afterID int64, limit int) ([]models.Entity, error) {
	tbl, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := t.conn.Query(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE id > $1 ORDER BY id LIMIT $2", tbl.columns, tbl.name),
		afterID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", kind, err)
	}
	defer rows.Close()

	var out []models.Entity
	for rows.Next() {
		e, err := tbl.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning %s row: %w", kind, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating %s: %w", kind, err)
	}
	return out, nil
}
