package goroutine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureLogger struct {
	mu    sync.Mutex
	lines []string
	done  chan struct{}
}

func (c *captureLogger) Errorf(format string, args ...interface{}) {
	c.mu.Lock()
	c.lines = append(c.lines, fmt.Sprintf(format, args...))
	c.mu.Unlock()
	close(c.done)
}

func TestSafeGo_RecoversPanic(t *testing.T) {
	log := &captureLogger{done: make(chan struct{})}
	rh := NewRecoveryHandler(log)

	rh.SafeGo(func() { panic("boom") })

	select {
	case <-log.done:
	case <-time.After(time.Second):
		t.Fatal("panic не был перехвачен")
	}
	log.mu.Lock()
	defer log.mu.Unlock()
	require.Len(t, log.lines, 1)
	assert.Contains(t, log.lines[0], "boom")
}

type ctxKey struct{}

func TestSafeGoWithContext_PassesContext(t *testing.T) {
	rh := NewRecoveryHandler(&captureLogger{done: make(chan struct{})})
	ctx := context.WithValue(context.Background(), ctxKey{}, "v")
	got := make(chan any, 1)

	rh.SafeGoWithContext(ctx, func(ctx context.Context) { got <- ctx.Value(ctxKey{}) })

	select {
	case v := <-got:
		assert.Equal(t, "v", v)
	case <-time.After(time.Second):
		t.Fatal("функция не была вызвана")
	}
}
