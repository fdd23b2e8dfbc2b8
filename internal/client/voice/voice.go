// Package voice exposes speech recognition, speech playback and desktop
// notifications backed by external commands.
package voice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pysugar/assistant/internal/client/notice"
	"github.com/pysugar/assistant/internal/config"
	"github.com/pysugar/assistant/internal/logging"
	"github.com/pysugar/assistant/internal/util"
	"go.uber.org/zap"
)

var (
	// ErrNoSpeech is returned when recognition produced no transcript.
	ErrNoSpeech = errors.New("no speech recognized")
	// ErrUnsupported is wrapped by every call on a missing capability.
	ErrUnsupported = errors.New("not supported on this system")
)

// Capability is either a supported handle or nothing.
type Capability[T any] struct {
	handle T
	ok     bool
}

// Supported wraps an available handle.
func Supported[T any](handle T) Capability[T] {
	return Capability[T]{handle: handle, ok: true}
}

// Unsupported is the empty capability.
func Unsupported[T any]() Capability[T] {
	return Capability[T]{}
}

// Get returns the handle and whether it is available.
func (c Capability[T]) Get() (T, bool) {
	return c.handle, c.ok
}

// Available reports whether the capability is supported.
func (c Capability[T]) Available() bool {
	return c.ok
}

// Platform is the set of capabilities resolved at startup.
type Platform struct {
	Recognizer Capability[*Recognizer]
	Speaker    Capability[*Speaker]
	Notifier   Capability[*Notifier]
}

// Probe resolves each configured command on PATH. It runs once at startup;
// a missing or unset command leaves that capability unsupported.
func Probe(cfg config.Voice) Platform {
	var p Platform
	if argv, ok := resolve("speech recognition", cfg.STTCommand); ok {
		p.Recognizer = Supported(&Recognizer{argv: argv})
	}
	if argv, ok := resolve("speech playback", cfg.TTSCommand); ok {
		p.Speaker = Supported(&Speaker{argv: argv})
	}
	if argv, ok := resolve("notifications", cfg.NotifyCommand); ok {
		p.Notifier = Supported(&Notifier{argv: argv})
	}
	return p
}

func resolve(feature, command string) ([]string, bool) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, false
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		logging.L().Info("🔇 Capability unavailable", zap.String("feature", feature), zap.String("command", argv[0]))
		return nil, false
	}
	argv[0] = path
	return argv, true
}

func unsupported(feature string) error {
	return notice.Wrap(notice.PlatformUnsupported, feature, ErrUnsupported)
}

// Listen records one utterance and returns its transcript.
func (p Platform) Listen(ctx context.Context) (string, error) {
	rec, ok := p.Recognizer.Get()
	if !ok {
		return "", unsupported("speech recognition")
	}
	return rec.Listen(ctx)
}

// Speak reads text aloud and returns when playback ends or is stopped.
func (p Platform) Speak(ctx context.Context, text string) error {
	sp, ok := p.Speaker.Get()
	if !ok {
		return unsupported("speech playback")
	}
	return sp.Speak(ctx, text)
}

// Notify shows a desktop notification.
func (p Platform) Notify(ctx context.Context, title, body string) error {
	n, ok := p.Notifier.Get()
	if !ok {
		return unsupported("notifications")
	}
	return n.Notify(ctx, title, body)
}

// Recognizer runs a speech-to-text command that prints the transcript.
type Recognizer struct {
	argv []string
}

// Listen runs the command once. An empty transcript is ErrNoSpeech.
func (r *Recognizer) Listen(ctx context.Context) (string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.argv[0], r.argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("speech recognition: %w: %s", err, util.TruncateLog(strings.TrimSpace(stderr.String()), 200))
	}
	transcript := strings.Join(strings.Fields(stdout.String()), " ")
	if transcript == "" {
		return "", ErrNoSpeech
	}
	return transcript, nil
}

// Speaker plays text through a text-to-speech command. Only one utterance
// plays at a time.
type Speaker struct {
	argv []string

	mu      sync.Mutex
	current *playback
}

type playback struct {
	cmd     *exec.Cmd
	stopped bool
}

// Speak starts playback, replacing anything already playing, and waits for it.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	s.Stop()
	args := append(append([]string(nil), s.argv[1:]...), text)
	p := &playback{cmd: exec.CommandContext(ctx, s.argv[0], args...)}

	s.mu.Lock()
	if err := p.cmd.Start(); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("speech playback: %w", err)
	}
	s.current = p
	s.mu.Unlock()

	err := p.cmd.Wait()

	s.mu.Lock()
	stopped := p.stopped
	if s.current == p {
		s.current = nil
	}
	s.mu.Unlock()
	if err != nil && !stopped && ctx.Err() == nil {
		return fmt.Errorf("speech playback: %w", err)
	}
	return nil
}

// Stop ends the current playback, if any.
func (s *Speaker) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return
	}
	s.current.stopped = true
	if err := s.current.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logging.L().Debug("⚠️ Failed to stop playback", zap.Error(err))
	}
}

// Notifier shows notifications with a command taking title and body arguments.
type Notifier struct {
	argv []string
}

// Notify runs the notification command.
func (n *Notifier) Notify(ctx context.Context, title, body string) error {
	args := append(append([]string(nil), n.argv[1:]...), title, body)
	out, err := exec.CommandContext(ctx, n.argv[0], args...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("notify: %w: %s", err, util.TruncateLog(strings.TrimSpace(string(out)), 200))
	}
	return nil
}
