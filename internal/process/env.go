// Package process carries the ambient process facts (pid, wall clock, unique
// tokens) that the engine embeds in lock files and temporary names.
//
// They are passed around explicitly as an Env so tests can pin them.
package process

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock supplies wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// TokenGenerator produces unique tokens for temporary and backup names.
type TokenGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 tokens.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
//
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequenceGenerator returns prefix-1, prefix-2, ... for deterministic tests.
//
// Thread-safety: safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator that counts up from 1.
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next token in sequence.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Env bundles the process facts used for naming and diagnostics.
type Env struct {
	PID    int
	Clock  Clock
	Tokens TokenGenerator
}

// Current returns the Env of the running process.
func Current() Env {
	return Env{
		PID:    os.Getpid(),
		Clock:  SystemClock{},
		Tokens: UUIDv7Generator{},
	}
}

// Now returns the Env clock's time, falling back to the system clock.
func (e Env) Now() time.Time {
	if e.Clock == nil {
		return SystemClock{}.Now()
	}
	return e.Clock.Now()
}

// Token returns a fresh unique token.
func (e Env) Token() string {
	if e.Tokens == nil {
		return UUIDv7Generator{}.Generate()
	}
	return e.Tokens.Generate()
}

// UniqueSuffix builds a name fragment that is unique across concurrent and
// overlapping runs: UTC timestamp, pid, then a fresh token.
func (e Env) UniqueSuffix() string {
	return fmt.Sprintf("%s-%d-%s", e.Now().UTC().Format("20060102T150405Z"), e.PID, e.Token())
}
