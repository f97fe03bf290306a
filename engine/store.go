package engine

import (
	"context"
	"database/sql"
	"errors"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-idp"
)

// Store owns all engine persistence. Single-use redemption is enforced here
// via conditional updates: the row transition happens inside the database so
// concurrent redeems of the same token serialize to exactly one winner.
type Store struct {
	db *bun.DB
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db}
}

// RunInTx wraps fn in a database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx bun.Tx) error) error {
	return s.db.RunInTx(ctx, nil, fn)
}

func (s *Store) CreateUser(ctx context.Context, db bun.IDB, user *User) error {
	if db == nil {
		db = s.db
	}
	if _, err := db.NewInsert().Model(user).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	user := &User{}
	err := s.db.NewSelect().Model(user).Where("usr.email = ?", email).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerrors.New("user not found", goerrors.CategoryNotFound)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user by email")
	}
	return user, nil
}

func (s *Store) GetUserByID(ctx context.Context, id uuid.UUID) (*User, error) {
	user := &User{}
	err := s.db.NewSelect().Model(user).Where("usr.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerrors.New("user not found", goerrors.CategoryNotFound)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user by id")
	}
	return user, nil
}

// MarkEmailVerified flips the verification flag for the user.
func (s *Store) MarkEmailVerified(ctx context.Context, db bun.IDB, id uuid.UUID) error {
	if db == nil {
		db = s.db
	}
	_, err := db.NewUpdate().Model((*User)(nil)).
		Set("is_email_verified = ?", true).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to mark email verified")
	}
	return nil
}

// UpdateUserPassword installs a new password hash.
func (s *Store) UpdateUserPassword(ctx context.Context, db bun.IDB, id uuid.UUID, passwordHash string) error {
	if db == nil {
		db = s.db
	}
	_, err := db.NewUpdate().Model((*User)(nil)).
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, db bun.IDB, session *Session) error {
	if db == nil {
		db = s.db
	}
	if _, err := db.NewInsert().Model(session).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create session")
	}
	return nil
}

// GetLiveSession resolves a session by token hash, rejecting revoked and
// expired rows.
func (s *Store) GetLiveSession(ctx context.Context, tokenHash string, now time.Time) (*Session, error) {
	session := &Session{}
	err := s.db.NewSelect().Model(session).
		Relation("User").
		Where("ses.token_hash = ?", tokenHash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, idp.ErrInvalidSession
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load session")
	}

	if !session.Live(now) {
		return nil, idp.ErrInvalidSession
	}

	return session, nil
}

// RevokeSession marks the session behind the token hash revoked. Zero rows
// affected means the handle was unknown, expired, or already revoked.
func (s *Store) RevokeSession(ctx context.Context, tokenHash string, now time.Time) error {
	res, err := s.db.NewUpdate().Model((*Session)(nil)).
		Set("revoked = ?", true).
		Where("token_hash = ?", tokenHash).
		Where("revoked = ?", false).
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke session")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to inspect revoke result")
	}
	if rows == 0 {
		return idp.ErrInvalidSession
	}

	return nil
}

// RevokeSessionsForUser invalidates every live session the user holds.
func (s *Store) RevokeSessionsForUser(ctx context.Context, db bun.IDB, userID uuid.UUID) error {
	if db == nil {
		db = s.db
	}
	_, err := db.NewUpdate().Model((*Session)(nil)).
		Set("revoked = ?", true).
		Where("user_id = ?", userID).
		Where("revoked = ?", false).
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke user sessions")
	}
	return nil
}

func (s *Store) CreateToken(ctx context.Context, db bun.IDB, token *IssuedToken) error {
	if db == nil {
		db = s.db
	}
	if _, err := db.NewInsert().Model(token).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not record issued token")
	}
	return nil
}

// RedeemToken consumes a single-use token. The expiry check happens before
// the conditional update; the update itself guarantees exactly one redeem
// wins under concurrency.
func (s *Store) RedeemToken(ctx context.Context, tokenHash string, kind idp.TokenKind, now time.Time) (*IssuedToken, error) {
	token := &IssuedToken{}
	err := s.db.NewSelect().Model(token).
		Where("tok.token_hash = ?", tokenHash).
		Where("tok.kind = ?", kind).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, idp.ErrTokenSpent
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load issued token")
	}

	if now.After(token.ExpiresAt) {
		return nil, idp.ErrTokenExpired
	}

	res, err := s.db.NewUpdate().Model((*IssuedToken)(nil)).
		Set("redeemed_at = ?", now).
		Where("token_hash = ?", tokenHash).
		Where("kind = ?", kind).
		Where("redeemed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to redeem token")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to inspect redeem result")
	}
	if rows == 0 {
		return nil, idp.ErrTokenSpent
	}

	token.RedeemedAt = &now
	return token, nil
}

func (s *Store) CreateInvitation(ctx context.Context, db bun.IDB, invitation *Invitation) error {
	if db == nil {
		db = s.db
	}
	if _, err := db.NewInsert().Model(invitation).Exec(ctx); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "could not record invitation")
	}
	return nil
}

func (s *Store) GetInvitation(ctx context.Context, id uuid.UUID) (*Invitation, error) {
	invitation := &Invitation{}
	err := s.db.NewSelect().Model(invitation).Where("inv.id = ?", id).Limit(1).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, goerrors.New("invitation not found", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound)
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load invitation")
	}
	return invitation, nil
}

// RedeemInvitation consumes the invitation with the same conditional-update
// discipline as issued tokens.
func (s *Store) RedeemInvitation(ctx context.Context, id uuid.UUID, now time.Time) error {
	invitation, err := s.GetInvitation(ctx, id)
	if err != nil {
		return err
	}

	if now.After(invitation.ExpiresAt) {
		return idp.ErrTokenExpired
	}

	res, err := s.db.NewUpdate().Model((*Invitation)(nil)).
		Set("redeemed_at = ?", now).
		Where("id = ?", id).
		Where("redeemed_at IS NULL").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to redeem invitation")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to inspect redeem result")
	}
	if rows == 0 {
		return idp.ErrTokenSpent
	}

	return nil
}
