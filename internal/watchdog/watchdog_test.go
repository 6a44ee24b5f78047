package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeRegistry struct {
	mu        sync.Mutex
	reapCalls []uint16
	verifyLog []int
	reapRet   int
}

func (f *fakeRegistry) ReapWithoutPong(status uint16, _ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reapCalls = append(f.reapCalls, status)
	return f.reapRet
}

func (f *fakeRegistry) Verify(pingOpcode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyLog = append(f.verifyLog, pingOpcode)
}

func TestTick_ReapsThenVerifies(t *testing.T) {
	reg := &fakeRegistry{reapRet: 2}
	w := New(reg, time.Second, 9, nil)
	w.tick()

	reg.mu.Lock()
	defer reg.mu.Unlock()
	assert.Equal(t, []uint16{StatusInactive}, reg.reapCalls)
	assert.Equal(t, []int{9}, reg.verifyLog)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	reg := &fakeRegistry{}
	w := New(reg, 10*time.Millisecond, 9, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()
	assert.GreaterOrEqual(t, len(reg.verifyLog), 2)
}
