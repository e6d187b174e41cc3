package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/BYU-PCCL/footron-api/internal/codegen"
	"github.com/BYU-PCCL/footron-api/internal/lock"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu         sync.Mutex
	placardURL *string
	lockFields []any
	placardErr error
}

// PatchPlacardURL records the URL the real client would send: a nil url
// becomes the literal "lock" sentinel, as controllerclient does.
func (f *fakeController) PatchPlacardURL(ctx context.Context, url *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if url == nil {
		sentinel := "lock"
		url = &sentinel
	}
	f.placardURL = url
	return nil
}

func (f *fakeController) PatchCurrentExperience(ctx context.Context, fields map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lockFields = append(f.lockFields, fields["lock"])
	return nil
}

func (f *fakeController) GetPlacard(ctx context.Context) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placardErr != nil {
		return nil, f.placardErr
	}
	var url any
	if f.placardURL != nil {
		url = *f.placardURL
	}
	return map[string]any{"url": url}, nil
}

func (f *fakeController) currentURL() *string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placardURL
}

func newTestManager(t *testing.T) (*Manager, *fakeController, clockwork.FakeClock) {
	t.Helper()
	ctrl := &fakeController{}
	clock := clockwork.NewFakeClock()
	m := NewManager(ctrl, "https://example.com", time.Second, WithClock(clock))
	t.Cleanup(m.Close)
	return m, ctrl, clock
}

func TestCheckAndCheckNext(t *testing.T) {
	m, _, _ := newTestManager(t)
	current, next, _ := m.Snapshot()

	assert.True(t, m.Check(current))
	assert.True(t, m.CheckNext(next))
	assert.False(t, m.Check(next))
	assert.False(t, m.CheckNext(current))
	assert.False(t, m.Check(codegen.New()))
}

func TestAdvanceRotatesCodesWhenOpen(t *testing.T) {
	m, _, _ := newTestManager(t)
	current1, next1, _ := m.Snapshot()

	m.Advance(context.Background())

	current2, next2, lk := m.Snapshot()
	assert.True(t, lk.Equal(lock.NewOpen()))
	assert.Equal(t, next1, current2, "next_code should be promoted to current_code")
	assert.NotEqual(t, current1, current2)
	assert.NotEqual(t, next1, next2)
}

func TestAdvanceIsIdempotentUnderConcurrentCalls(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, next1, _ := m.Snapshot()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Advance(context.Background())
		}()
	}
	wg.Wait()

	current, _, _ := m.Snapshot()
	assert.Equal(t, next1, current, "concurrent Advance calls should behave as exactly one rotation")
}

func TestAutoCycleTimerFiresAdvance(t *testing.T) {
	m, _, clock := newTestManager(t)
	_, next1, _ := m.Snapshot()

	clock.BlockUntil(2)
	clock.Advance(time.Second)

	require.Eventually(t, func() bool {
		current, _, _ := m.Snapshot()
		return current == next1
	}, time.Second, time.Millisecond)
}

func TestSetLockClosedPreservesCurrentCode(t *testing.T) {
	m, ctrl, _ := newTestManager(t)
	current1, _, _ := m.Snapshot()

	m.SetLock(context.Background(), lock.NewClosed())

	current2, next2, lk := m.Snapshot()
	assert.Equal(t, current1, current2, "current code must survive Open->Closed so bound clients aren't evicted")
	assert.Equal(t, codegen.Empty, next2)
	assert.True(t, lk.Equal(lock.NewClosed()))
	assert.False(t, m.CheckNext(""))

	assert.Equal(t, "lock", *ctrl.currentURL())
}

func TestSetLockCapacityPinsNextToCurrent(t *testing.T) {
	m, _, _ := newTestManager(t)
	current, _, _ := m.Snapshot()

	m.SetLock(context.Background(), lock.NewCapacity(2))

	current2, next2, lk := m.Snapshot()
	assert.Equal(t, current, current2)
	assert.Equal(t, current, next2)
	assert.True(t, lk.Equal(lock.NewCapacity(2)))
}

func TestSetLockClosedThenOpenRotatesCurrent(t *testing.T) {
	m, _, _ := newTestManager(t)
	m.SetLock(context.Background(), lock.NewClosed())
	current1, _, _ := m.Snapshot()

	m.SetLock(context.Background(), lock.NewOpen())

	current2, next2, lk := m.Snapshot()
	assert.True(t, lk.Equal(lock.NewOpen()))
	assert.NotEqual(t, current1, current2, "code stream must strictly advance across a Closed->Open edge")
	assert.NotEqual(t, current2, next2)
}

func TestSetLockNoopWhenUnchanged(t *testing.T) {
	m, ctrl, _ := newTestManager(t)
	before, _, _ := m.Snapshot()

	m.SetLock(context.Background(), lock.NewOpen())

	after, _, _ := m.Snapshot()
	assert.Equal(t, before, after)
	assert.Empty(t, ctrl.lockFields, "no-op SetLock must not push to the controller")
}

func TestAddRemoveListener(t *testing.T) {
	m, _, _ := newTestManager(t)

	var called int
	var mu sync.Mutex
	handle := m.AddListener(func(current codegen.Code) {
		mu.Lock()
		defer mu.Unlock()
		called++
	})

	m.Advance(context.Background())
	mu.Lock()
	first := called
	mu.Unlock()
	assert.Equal(t, 1, first)

	m.RemoveListener(handle)
	m.SetLock(context.Background(), lock.NewClosed())
	m.SetLock(context.Background(), lock.NewOpen())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, called, "removed listener must not be called again")
}

func TestPlacardWatchdogRepairsNullURL(t *testing.T) {
	m, ctrl, clock := newTestManager(t)
	ctrl.mu.Lock()
	ctrl.placardURL = nil
	ctrl.mu.Unlock()

	clock.BlockUntil(2)
	clock.Advance(placardWatchdogInterval)

	require.Eventually(t, func() bool {
		return ctrl.currentURL() != nil
	}, time.Second, time.Millisecond)
}
