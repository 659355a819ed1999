package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"notiq/internal/models"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate entry")
)

const userColumns = `id, username, email, full_name, avatar_url, password_hash,
	refresh_token_hash, reset_token_hash, reset_token_expires_at, created_at, updated_at`

type UserRepository struct {
	db *DB
}

func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) Create(ctx context.Context, username, email, fullName, passwordHash string, avatarURL *string) (*models.User, error) {
	id, err := GenerateID("usr")
	if err != nil {
		return nil, fmt.Errorf("generating user ID: %w", err)
	}
	now := time.Now().UTC()

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, email, full_name, avatar_url, password_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, username, email, fullName, avatarURL, passwordHash, now,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}

	return &models.User{
		ID:           id,
		Username:     username,
		Email:        email,
		FullName:     fullName,
		AvatarURL:    avatarURL,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	}, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
}

// FindByUsernameOrEmail resolves a login identifier that may be either field.
func (r *UserRepository) FindByUsernameOrEmail(ctx context.Context, username, email string) (*models.User, error) {
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE (username != '' AND username = ?) OR (email != '' AND email = ?)`,
		username, email,
	)
}

// ExistsByUsernameOrEmail reports whether any user already claims either
// identity field.
func (r *UserRepository) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ? OR email = ?`,
		username, email,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking user existence: %w", err)
	}
	return count > 0, nil
}

func (r *UserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating password: %w", err)
	}
	return checkRowsAffected(result)
}

// SetRefreshTokenHash overwrites the single stored refresh credential,
// invalidating any previously issued refresh token.
func (r *UserRepository) SetRefreshTokenHash(ctx context.Context, id, tokenHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_hash = ? WHERE id = ?`,
		tokenHash, id,
	)
	if err != nil {
		return fmt.Errorf("storing refresh token: %w", err)
	}
	return checkRowsAffected(result)
}

// ClearRefreshToken unsets the stored refresh credential. Idempotent.
func (r *UserRepository) ClearRefreshToken(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET refresh_token_hash = NULL WHERE id = ?`, id,
	)
	if err != nil {
		return fmt.Errorf("clearing refresh token: %w", err)
	}
	return nil
}

// SetResetToken stores a pending password-reset credential, overwriting any
// prior pending token.
func (r *UserRepository) SetResetToken(ctx context.Context, id, tokenHash string, expiresAt time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET reset_token_hash = ?, reset_token_expires_at = ? WHERE id = ?`,
		tokenHash, expiresAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("storing reset token: %w", err)
	}
	return checkRowsAffected(result)
}

// FindByValidResetToken returns the user holding this exact reset token hash
// with an unexpired expiry.
func (r *UserRepository) FindByValidResetToken(ctx context.Context, tokenHash string) (*models.User, error) {
	return r.findOne(ctx,
		`SELECT `+userColumns+` FROM users WHERE reset_token_hash = ? AND reset_token_expires_at > ?`,
		tokenHash, time.Now().UTC(),
	)
}

// ConsumeResetToken sets the new password hash and clears the pending reset
// token in one statement, so a token is single-use.
func (r *UserRepository) ConsumeResetToken(ctx context.Context, id, passwordHash string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		    SET password_hash = ?,
		        reset_token_hash = NULL,
		        reset_token_expires_at = NULL,
		        updated_at = ?
		  WHERE id = ?`,
		passwordHash, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("consuming reset token: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) UpdateAccount(ctx context.Context, id, fullName, email string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET full_name = ?, email = ?, updated_at = ? WHERE id = ?`,
		fullName, email, time.Now().UTC(), id,
	)
	if err != nil {
		if IsUniqueConstraintError(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("updating account details: %w", err)
	}
	return checkRowsAffected(result)
}

func (r *UserRepository) UpdateAvatarURL(ctx context.Context, id, avatarURL string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users SET avatar_url = ?, updated_at = ? WHERE id = ?`,
		avatarURL, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating avatar: %w", err)
	}
	return checkRowsAffected(result)
}

// ClearExpiredResetTokens drops reset tokens past their expiry.
func (r *UserRepository) ClearExpiredResetTokens(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE users
		    SET reset_token_hash = NULL, reset_token_expires_at = NULL
		  WHERE reset_token_expires_at IS NOT NULL AND reset_token_expires_at < ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("clearing expired reset tokens: %w", err)
	}
	return result.RowsAffected()
}

func (r *UserRepository) findOne(ctx context.Context, query string, args ...any) (*models.User, error) {
	var u models.User
	var avatarURL, refreshHash, resetHash sql.NullString
	var resetExpires, updatedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, args...).Scan(
		&u.ID,
		&u.Username,
		&u.Email,
		&u.FullName,
		&avatarURL,
		&u.PasswordHash,
		&refreshHash,
		&resetHash,
		&resetExpires,
		&u.CreatedAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	u.AvatarURL = nullStringToPtr(avatarURL)
	u.RefreshTokenHash = nullStringToPtr(refreshHash)
	u.ResetTokenHash = nullStringToPtr(resetHash)
	u.ResetTokenExpires = nullTimeToPtr(resetExpires)
	u.UpdatedAt = nullTimeToPtr(updatedAt)

	return &u, nil
}
