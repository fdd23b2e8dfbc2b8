package util

import "testing"

func TestTruncateLog_ShortString(t *testing.T) {
	input := "short log"
	if got := TruncateLog(input, DefaultLogMaxLen); got != input {
		t.Errorf("TruncateLog() should not truncate short strings, got %q", got)
	}
}

func TestTruncateLog_ExactLimit(t *testing.T) {
	input := "12345678901234567890"
	if got := TruncateLog(input, 20); got != input {
		t.Errorf("TruncateLog() should not truncate at exact limit, got %q", got)
	}
}

func TestTruncateLog_LongString(t *testing.T) {
	got := TruncateLog("1234567890abcdefghij", 10)
	if got != "1234567890... [truncated, 20 bytes total]" {
		t.Errorf("TruncateLog() = %q", got)
	}
}

func TestTruncateLog_DoesNotSplitRunes(t *testing.T) {
	// "héllo": 'é' occupies bytes 1-2, so a cut at 2 must back off to 1.
	got := TruncateLog("héllo", 2)
	if got != "h... [truncated, 6 bytes total]" {
		t.Errorf("TruncateLog() = %q", got)
	}
}

func TestTruncateBytes(t *testing.T) {
	long := make([]byte, DefaultLogMaxLen+10)
	for i := range long {
		long[i] = 'a'
	}
	got := TruncateBytes(long)
	if len(got) <= DefaultLogMaxLen {
		t.Fatalf("expected truncation suffix, got length %d", len(got))
	}
}

func TestIsVerbose(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"1", true},
		{"TRUE", true},
		{"yes", true},
		{"no", false},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("ASSISTANT_VERBOSE", tt.value)
			if got := IsVerbose(); got != tt.want {
				t.Fatalf("IsVerbose() with %q = %v, want %v", tt.value, got, tt.want)
			}
		})
	}
}
