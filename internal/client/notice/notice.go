// Package notice classifies client failures and delivers user-visible notices.
package notice

import (
	"errors"
	"fmt"
	"sync"
)

// Kind is the failure taxonomy shown to the user.
type Kind int

const (
	Info Kind = iota
	AuthenticationRequired
	CredentialExchangeFailed
	RateLimited
	PaymentRequired
	NetworkOrServerError
	DecodeError
	StorageParseError
	PlatformUnsupported
)

var kindNames = map[Kind]string{
	Info:                     "info",
	AuthenticationRequired:   "authentication_required",
	CredentialExchangeFailed: "credential_exchange_failed",
	RateLimited:              "rate_limited",
	PaymentRequired:          "payment_required",
	NetworkOrServerError:     "network_or_server_error",
	DecodeError:              "decode_error",
	StorageParseError:        "storage_parse_error",
	PlatformUnsupported:      "platform_unsupported",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Notice is a user-visible message.
type Notice struct {
	Kind    Kind
	Message string
}

// Sink receives notices. Implementations must be safe for concurrent use.
type Sink interface {
	Notify(Notice)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Notice)

func (f SinkFunc) Notify(n Notice) { f(n) }

// Discard drops every notice.
var Discard Sink = SinkFunc(func(Notice) {})

// Recorder keeps every notice; tests use it.
type Recorder struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *Recorder) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

// All returns a copy of the recorded notices.
func (r *Recorder) All() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

// Has reports whether a notice of kind k was recorded.
func (r *Recorder) Has(k Kind) bool {
	for _, n := range r.All() {
		if n.Kind == k {
			return true
		}
	}
	return false
}

// Error attaches a Kind to an underlying error.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err tagged with kind, or nil when err is nil.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind carried by err, or NetworkOrServerError.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return NetworkOrServerError
}

// FromError builds a notice for err with a message suited to its kind.
func FromError(err error) Notice {
	kind := KindOf(err)
	return Notice{Kind: kind, Message: Message(kind, err)}
}

// Message is the default user-facing text for kind.
func Message(kind Kind, err error) string {
	switch kind {
	case AuthenticationRequired:
		return "You need to sign in to continue."
	case CredentialExchangeFailed:
		return "Could not restore that session. Please sign in with your password."
	case RateLimited:
		return "Rate limit exceeded. Please wait a moment and try again."
	case PaymentRequired:
		return "Payment required. Please add credits to continue."
	case PlatformUnsupported:
		return "This feature is not supported on this system."
	case StorageParseError:
		return "Saved data could not be read and was reset."
	}
	if err != nil {
		return "Something went wrong: " + err.Error()
	}
	return "Something went wrong."
}
