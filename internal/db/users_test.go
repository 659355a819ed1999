package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	database, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}

func TestUserCreateAndFind(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	user, err := repo.Create(ctx, "janed", "jane@example.com", "Jane Doe", "hash", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	byID, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if byID.Email != "jane@example.com" || byID.Username != "janed" {
		t.Fatalf("found user = %q/%q", byID.Username, byID.Email)
	}

	byEmail, err := repo.FindByEmail(ctx, "jane@example.com")
	if err != nil {
		t.Fatalf("FindByEmail() error = %v", err)
	}
	if byEmail.ID != user.ID {
		t.Fatalf("FindByEmail id = %q, want %q", byEmail.ID, user.ID)
	}

	if _, err := repo.FindByID(ctx, "usr_missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUserCreateDuplicate(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	if _, err := repo.Create(ctx, "janed", "jane@example.com", "Jane Doe", "hash", nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := repo.Create(ctx, "janed", "other@example.com", "Other", "hash", nil); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate username error = %v, want ErrDuplicate", err)
	}
	if _, err := repo.Create(ctx, "other", "jane@example.com", "Other", "hash", nil); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("duplicate email error = %v, want ErrDuplicate", err)
	}
}

func TestFindByUsernameOrEmailIgnoresEmptyIdentifiers(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	if _, err := repo.Create(ctx, "janed", "jane@example.com", "Jane Doe", "hash", nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if _, err := repo.FindByUsernameOrEmail(ctx, "janed", ""); err != nil {
		t.Fatalf("FindByUsernameOrEmail(username) error = %v", err)
	}
	if _, err := repo.FindByUsernameOrEmail(ctx, "", "jane@example.com"); err != nil {
		t.Fatalf("FindByUsernameOrEmail(email) error = %v", err)
	}
	if _, err := repo.FindByUsernameOrEmail(ctx, "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByUsernameOrEmail(empty) error = %v, want ErrNotFound", err)
	}
}

func TestRefreshTokenLifecycle(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	user, err := repo.Create(ctx, "janed", "jane@example.com", "Jane Doe", "hash", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.SetRefreshTokenHash(ctx, user.ID, "hash-one"); err != nil {
		t.Fatalf("SetRefreshTokenHash() error = %v", err)
	}
	if err := repo.SetRefreshTokenHash(ctx, user.ID, "hash-two"); err != nil {
		t.Fatalf("SetRefreshTokenHash() error = %v", err)
	}

	fresh, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if fresh.RefreshTokenHash == nil || *fresh.RefreshTokenHash != "hash-two" {
		t.Fatalf("refresh hash = %v, want hash-two", fresh.RefreshTokenHash)
	}

	if err := repo.ClearRefreshToken(ctx, user.ID); err != nil {
		t.Fatalf("ClearRefreshToken() error = %v", err)
	}
	if err := repo.ClearRefreshToken(ctx, user.ID); err != nil {
		t.Fatalf("repeated ClearRefreshToken() error = %v", err)
	}
	if err := repo.ClearRefreshToken(ctx, "usr_missing"); err != nil {
		t.Fatalf("ClearRefreshToken(missing) error = %v", err)
	}

	fresh, err = repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if fresh.RefreshTokenHash != nil {
		t.Fatalf("refresh hash = %v, want nil", fresh.RefreshTokenHash)
	}

	if err := repo.SetRefreshTokenHash(ctx, "usr_missing", "hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetRefreshTokenHash(missing) error = %v, want ErrNotFound", err)
	}
}

func TestResetTokenLifecycle(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	user, err := repo.Create(ctx, "janed", "jane@example.com", "Jane Doe", "hash", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	expiry := time.Now().UTC().Add(time.Hour)
	if err := repo.SetResetToken(ctx, user.ID, "reset-hash", expiry); err != nil {
		t.Fatalf("SetResetToken() error = %v", err)
	}

	found, err := repo.FindByValidResetToken(ctx, "reset-hash")
	if err != nil {
		t.Fatalf("FindByValidResetToken() error = %v", err)
	}
	if found.ID != user.ID {
		t.Fatalf("found id = %q, want %q", found.ID, user.ID)
	}

	if _, err := repo.FindByValidResetToken(ctx, "wrong-hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByValidResetToken(wrong) error = %v, want ErrNotFound", err)
	}

	if err := repo.ConsumeResetToken(ctx, user.ID, "new-hash"); err != nil {
		t.Fatalf("ConsumeResetToken() error = %v", err)
	}

	fresh, err := repo.FindByID(ctx, user.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if fresh.PasswordHash != "new-hash" {
		t.Fatalf("password hash = %q, want new-hash", fresh.PasswordHash)
	}
	if fresh.ResetTokenHash != nil || fresh.ResetTokenExpires != nil {
		t.Fatal("reset token fields not cleared after consume")
	}
	if _, err := repo.FindByValidResetToken(ctx, "reset-hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("consumed token lookup error = %v, want ErrNotFound", err)
	}
}

func TestExpiredResetTokenIsInvalid(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	user, err := repo.Create(ctx, "janed", "jane@example.com", "Jane Doe", "hash", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.SetResetToken(ctx, user.ID, "reset-hash", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("SetResetToken() error = %v", err)
	}

	if _, err := repo.FindByValidResetToken(ctx, "reset-hash"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("FindByValidResetToken(expired) error = %v, want ErrNotFound", err)
	}
}

func TestClearExpiredResetTokens(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	expired, err := repo.Create(ctx, "janed", "jane@example.com", "Jane Doe", "hash", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	pending, err := repo.Create(ctx, "bobb", "bob@example.com", "Bob B", "hash", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.SetResetToken(ctx, expired.ID, "old-hash", time.Now().UTC().Add(-time.Minute)); err != nil {
		t.Fatalf("SetResetToken() error = %v", err)
	}
	if err := repo.SetResetToken(ctx, pending.ID, "live-hash", time.Now().UTC().Add(time.Hour)); err != nil {
		t.Fatalf("SetResetToken() error = %v", err)
	}

	cleared, err := repo.ClearExpiredResetTokens(ctx)
	if err != nil {
		t.Fatalf("ClearExpiredResetTokens() error = %v", err)
	}
	if cleared != 1 {
		t.Fatalf("cleared = %d, want 1", cleared)
	}

	if _, err := repo.FindByValidResetToken(ctx, "live-hash"); err != nil {
		t.Fatalf("live token lookup error = %v", err)
	}
	fresh, err := repo.FindByID(ctx, expired.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if fresh.ResetTokenHash != nil {
		t.Fatal("expired reset token hash not cleared")
	}
}

func TestUpdateAccountDuplicateEmail(t *testing.T) {
	repo := NewUserRepository(openTestDB(t))
	ctx := context.Background()

	if _, err := repo.Create(ctx, "bobb", "bob@example.com", "Bob B", "hash", nil); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	user, err := repo.Create(ctx, "janed", "jane@example.com", "Jane Doe", "hash", nil)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if err := repo.UpdateAccount(ctx, user.ID, "Jane Doe", "bob@example.com"); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("UpdateAccount(taken email) error = %v, want ErrDuplicate", err)
	}
}
