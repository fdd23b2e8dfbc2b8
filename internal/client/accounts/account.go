// Package accounts keeps the bounded list of recently used identities on this
// device and switches between them.
package accounts

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/pysugar/assistant/internal/client/authclient"
	"github.com/pysugar/assistant/internal/db"
)

// MaxAccounts caps the persisted list.
const MaxAccounts = 5

// Credentials is a cached credential pair.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`
}

// Account is one known identity.
type Account struct {
	UserID      string       `json:"user_id"`
	Email       string       `json:"email"`
	DisplayName string       `json:"display_name"`
	Username    string       `json:"username"`
	LastUsedAt  time.Time    `json:"last_used_at"`
	Credentials *Credentials `json:"credentials,omitempty"`
	// Legacy marks records upgraded from the old store; they carry no real
	// identity key.
	Legacy bool `json:"legacy,omitempty"`
}

// CanRestore reports whether the stored credentials allow switching without
// a password.
func (a Account) CanRestore() bool {
	return !a.Legacy && a.UserID != "" && a.Credentials != nil && a.Credentials.RefreshToken != ""
}

func (a Account) clone() Account {
	if a.Credentials != nil {
		creds := *a.Credentials
		a.Credentials = &creds
	}
	return a
}

// Label is a short human-readable name.
func (a Account) Label() string {
	if a.DisplayName != "" {
		return a.DisplayName + " <" + a.Email + ">"
	}
	return a.Email
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func fromSession(s *authclient.Session, now time.Time) Account {
	return Account{
		UserID:      s.User.ID,
		Email:       normalizeEmail(s.User.Email),
		DisplayName: s.User.DisplayName,
		Username:    db.LocalPart(normalizeEmail(s.User.Email)),
		LastUsedAt:  now,
		Credentials: &Credentials{
			AccessToken:  s.AccessToken,
			RefreshToken: s.RefreshToken,
			ExpiresAt:    s.ExpiresAt,
		},
	}
}

// legacyAccount is the shape written under the old key.
type legacyAccount struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name"`
	Avatar   string `json:"avatar"`
	LastUsed int64  `json:"lastUsed"` // unix milliseconds
}

func (l legacyAccount) upgrade() Account {
	email := normalizeEmail(l.Email)
	a := Account{
		UserID:      l.ID,
		Email:       email,
		DisplayName: strings.TrimSpace(l.Name),
		Username:    db.LocalPart(email),
		Legacy:      true,
	}
	if l.LastUsed > 0 {
		a.LastUsedAt = time.UnixMilli(l.LastUsed).UTC()
	}
	return a
}

func parseCurrent(raw string) ([]Account, error) {
	var list []Account
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(list))
	for _, a := range list {
		a.Email = normalizeEmail(a.Email)
		if a.Email == "" {
			continue
		}
		if a.Username == "" {
			a.Username = db.LocalPart(a.Email)
		}
		out = append(out, a)
	}
	return out, nil
}

func parseLegacy(raw string) ([]Account, error) {
	var list []legacyAccount
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, err
	}
	out := make([]Account, 0, len(list))
	for _, l := range list {
		if strings.TrimSpace(l.Email) == "" {
			continue
		}
		out = append(out, l.upgrade())
	}
	return out, nil
}

// dedupe keeps the first record for each email. Sort by recency first so
// the newest copy wins.
func dedupe(list []Account) []Account {
	seen := make(map[string]bool, len(list))
	out := list[:0]
	for _, a := range list {
		if seen[a.Email] {
			continue
		}
		seen[a.Email] = true
		out = append(out, a)
	}
	return out
}

func sortByRecency(list []Account) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].LastUsedAt.After(list[j].LastUsedAt)
	})
}
