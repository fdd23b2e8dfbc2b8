package token

import (
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pysugar/assistant/internal/db/models"
)

func exerciseRefreshStore(t *testing.T, store RefreshStore) {
	t.Helper()

	first, err := store.NewToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	userID, second, err := store.RotateToken(first, time.Hour)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if userID != "user-1" || second == "" || second == first {
		t.Fatalf("unexpected rotation result: user=%q token=%q", userID, second)
	}

	if _, _, err := store.RotateToken(first, time.Hour); !errors.Is(err, ErrRefreshTokenReplay) {
		t.Fatalf("expected replay, got %v", err)
	}
	if _, _, err := store.RotateToken(second, time.Hour); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected family revoked after replay, got %v", err)
	}

	third, err := store.NewToken("user-1", time.Hour)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	if err := store.DeleteToken(third); err != nil {
		t.Fatalf("delete token: %v", err)
	}
	if _, _, err := store.RotateToken(third, time.Hour); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected deleted token to be invalid, got %v", err)
	}

	a, _ := store.NewToken("user-2", time.Hour)
	b, _ := store.NewToken("user-2", time.Hour)
	if err := store.DeleteUser("user-2"); err != nil {
		t.Fatalf("delete user: %v", err)
	}
	for _, tok := range []string{a, b} {
		if _, _, err := store.RotateToken(tok, time.Hour); !errors.Is(err, ErrInvalidRefreshToken) {
			t.Fatalf("expected user tokens revoked, got %v", err)
		}
	}

	if _, _, err := store.RotateToken("unknown", time.Hour); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected unknown token to be invalid, got %v", err)
	}
}

func TestGormRefreshStore(t *testing.T) {
	exerciseRefreshStore(t, NewGormRefreshStore(newTestTokenDB(t)))
}

func TestGormRefreshStore_ExpiredToken(t *testing.T) {
	database := newTestTokenDB(t)
	store := NewGormRefreshStore(database)
	tok, err := store.NewToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	store.now = func() time.Time { return time.Now().Add(time.Hour) }
	if _, _, err := store.RotateToken(tok, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected expired token to be invalid, got %v", err)
	}

	var remaining int64
	if err := database.Model(&models.RefreshToken{}).Where("hash = ?", refreshTokenHash(tok)).Count(&remaining).Error; err != nil {
		t.Fatalf("count tokens: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("expected expired token row to be removed, found %d", remaining)
	}
}

func TestRedisRefreshStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisRefreshStore(mr.Addr(), "", "test")
	defer store.Close()
	exerciseRefreshStore(t, store)
}

func TestRedisRefreshStore_ExpiresWithTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisRefreshStore(mr.Addr(), "", "test")
	defer store.Close()

	tok, err := store.NewToken("user-1", time.Minute)
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	mr.FastForward(2 * time.Minute)
	if _, _, err := store.RotateToken(tok, time.Minute); !errors.Is(err, ErrInvalidRefreshToken) {
		t.Fatalf("expected expired token to be invalid, got %v", err)
	}
}
