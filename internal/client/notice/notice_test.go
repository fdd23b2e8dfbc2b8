package notice

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	wrapped := fmt.Errorf("outer: %w", Wrap(RateLimited, "chat.send", base))

	if got := KindOf(wrapped); got != RateLimited {
		t.Fatalf("expected RateLimited, got %v", got)
	}
	if !errors.Is(wrapped, base) {
		t.Fatal("expected underlying error to unwrap")
	}
	if got := KindOf(base); got != NetworkOrServerError {
		t.Fatalf("expected default kind, got %v", got)
	}
	if Wrap(Info, "op", nil) != nil {
		t.Fatal("wrapping nil should stay nil")
	}
}

func TestRecorder(t *testing.T) {
	var rec Recorder
	rec.Notify(FromError(Wrap(PaymentRequired, "chat.send", errors.New("402"))))
	if !rec.Has(PaymentRequired) || rec.Has(RateLimited) {
		t.Fatalf("unexpected notices: %+v", rec.All())
	}
	if rec.All()[0].Message == "" {
		t.Fatal("expected a message")
	}
	if PaymentRequired.String() != "payment_required" {
		t.Fatalf("unexpected kind name %q", PaymentRequired.String())
	}
}
