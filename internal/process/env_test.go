package process

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestUUIDv7Generator(t *testing.T) {
	token := UUIDv7Generator{}.Generate()
	parsed, err := uuid.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestSequenceGenerator(t *testing.T) {
	gen := NewSequenceGenerator("tok")
	assert.Equal(t, "tok-1", gen.Generate())
	assert.Equal(t, "tok-2", gen.Generate())
}

func TestSequenceGenerator_Concurrent(t *testing.T) {
	gen := NewSequenceGenerator("c")
	var wg sync.WaitGroup
	seen := sync.Map{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			seen.Store(gen.Generate(), true)
		}()
	}
	wg.Wait()

	count := 0
	seen.Range(func(_, _ any) bool {
		count++
		return true
	})
	assert.Equal(t, 50, count)
}

func TestCurrent(t *testing.T) {
	env := Current()
	assert.Equal(t, os.Getpid(), env.PID)
	assert.NotEmpty(t, env.Token())
	assert.False(t, env.Now().IsZero())
}

func TestUniqueSuffix(t *testing.T) {
	env := Env{
		PID:    42,
		Clock:  fixedClock{t: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)},
		Tokens: NewSequenceGenerator("run"),
	}
	assert.Equal(t, "20260304T050607Z-42-run-1", env.UniqueSuffix())
	assert.Equal(t, "20260304T050607Z-42-run-2", env.UniqueSuffix())
}

func TestZeroEnvFallbacks(t *testing.T) {
	var env Env
	assert.False(t, env.Now().IsZero())
	assert.NotEmpty(t, env.Token())
}
