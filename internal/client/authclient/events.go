package authclient

import "sync"

// Event is an auth-state change.
type Event int

const (
	SignedIn Event = iota + 1
	TokenRefreshed
	UserUpdated
	SignedOut
)

func (e Event) String() string {
	switch e {
	case SignedIn:
		return "signed_in"
	case TokenRefreshed:
		return "token_refreshed"
	case UserUpdated:
		return "user_updated"
	case SignedOut:
		return "signed_out"
	}
	return "unknown"
}

// Listener receives events. session is nil for SignedOut.
type Listener func(event Event, session *Session)

// Subscription cancels a listener registration.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Unsubscribe stops delivery. Calling it more than once is harmless.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}
