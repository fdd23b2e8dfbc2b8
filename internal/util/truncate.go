package util

import (
	"fmt"
	"os"
	"strings"
	"unicode/utf8"
)

// DefaultLogMaxLen is the default maximum length for truncated log output (1KB)
const DefaultLogMaxLen = 1024

// IsVerbose reports whether ASSISTANT_VERBOSE asks for payload-level logging.
// Accepts: "1", "true", "yes" (case-insensitive)
func IsVerbose() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("ASSISTANT_VERBOSE"))) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}

// TruncateLog shortens s to at most maxLen bytes for logging, never splitting a
// UTF-8 sequence, and notes the original size.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is TruncateLog for []byte using DefaultLogMaxLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), DefaultLogMaxLen)
}
