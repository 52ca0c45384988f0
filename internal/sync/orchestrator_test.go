package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// fakeService counts refresh/push calls; refreshErr makes every pull fail.
type fakeService struct {
	name       string
	refreshErr error
	refreshes  atomic.Int64
	pushes     atomic.Int64
	block      chan struct{}
}

func (f *fakeService) Name() string { return f.name }

func (f *fakeService) Refresh(ctx context.Context) error {
	f.refreshes.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.refreshErr
}

func (f *fakeService) Push(ctx context.Context) bool {
	f.pushes.Add(1)
	return true
}

func testOrchestrator(services []Service, addonPush Service) *Orchestrator {
	var subscribe func(func()) func()
	if addonPush != nil {
		subscribe = func(fn func()) func() { return func() {} }
	}
	return NewOrchestrator(services, subscribe, addonPush, OrchestratorConfig{
		Interval:      time.Hour,
		PushDebounce:  30 * time.Millisecond,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Millisecond,
	}, discardLogger())
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestStartRunsImmediateCycle(t *testing.T) {
	svc := &fakeService{name: "library"}
	o := testOrchestrator([]Service{svc}, nil)
	defer o.Stop()

	o.Start(context.Background())
	waitFor(t, func() bool { return svc.pushes.Load() == 1 })
	if svc.refreshes.Load() != 1 {
		t.Errorf("expected exactly 1 refresh from the immediate cycle, got %d", svc.refreshes.Load())
	}
}

func TestPullRetriedBoundedTimes(t *testing.T) {
	svc := &fakeService{name: "library", refreshErr: errors.New("backend down")}
	o := testOrchestrator([]Service{svc}, nil)
	defer o.Stop()

	o.Start(context.Background())
	waitFor(t, func() bool { return svc.refreshes.Load() == 3 })

	// The cycle gives up silently after the last attempt; no push happens.
	time.Sleep(50 * time.Millisecond)
	if svc.refreshes.Load() != 3 {
		t.Errorf("expected exactly 3 pull attempts, got %d", svc.refreshes.Load())
	}
	if svc.pushes.Load() != 0 {
		t.Errorf("push must not run after a failed pull, got %d", svc.pushes.Load())
	}
}

func TestCycleOverlapGuard(t *testing.T) {
	svc := &fakeService{name: "library", block: make(chan struct{})}
	o := testOrchestrator([]Service{svc}, nil)
	defer o.Stop()

	o.Start(context.Background())
	waitFor(t, func() bool { return svc.refreshes.Load() == 1 })

	// While the first cycle is blocked mid-pull, further cycles are no-ops.
	o.Cycle(context.Background())
	o.Cycle(context.Background())
	if got := svc.refreshes.Load(); got != 1 {
		t.Errorf("overlapping cycles must be skipped, got %d refreshes", got)
	}
	close(svc.block)
	waitFor(t, func() bool { return svc.pushes.Load() == 1 })
}

func TestDebouncedPushCollapsesBurst(t *testing.T) {
	addon := &fakeService{name: "addons"}
	o := testOrchestrator(nil, addon)
	defer o.Stop()

	o.Start(context.Background())
	o.SchedulePush()
	o.SchedulePush()
	o.SchedulePush()

	waitFor(t, func() bool { return addon.pushes.Load() == 1 })
	time.Sleep(100 * time.Millisecond)
	if got := addon.pushes.Load(); got != 1 {
		t.Errorf("a burst of mutations must collapse to one push, got %d", got)
	}
}

func TestStopCancelsPendingDebounce(t *testing.T) {
	addon := &fakeService{name: "addons"}
	o := testOrchestrator(nil, addon)

	o.Start(context.Background())
	o.SchedulePush()
	o.Stop()

	time.Sleep(100 * time.Millisecond)
	if got := addon.pushes.Load(); got != 0 {
		t.Errorf("stop must cancel the pending debounced push, got %d", got)
	}
}

func TestSchedulePushIgnoredWhileStopped(t *testing.T) {
	addon := &fakeService{name: "addons"}
	o := testOrchestrator(nil, addon)

	o.SchedulePush()
	time.Sleep(60 * time.Millisecond)
	if got := addon.pushes.Load(); got != 0 {
		t.Errorf("a stopped engine must not push, got %d", got)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	svc := &fakeService{name: "library"}
	o := testOrchestrator([]Service{svc}, nil)
	defer o.Stop()

	o.Start(context.Background())
	o.Start(context.Background())
	waitFor(t, func() bool { return svc.pushes.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	if got := svc.refreshes.Load(); got != 1 {
		t.Errorf("double start must not run a second immediate cycle, got %d refreshes", got)
	}
}

func TestStatusTracksServices(t *testing.T) {
	svc := &fakeService{name: "library"}
	o := testOrchestrator([]Service{svc}, nil)
	defer o.Stop()

	statuses := o.Status()
	if len(statuses) != 1 || statuses[0].Name != "library" {
		t.Fatalf("unexpected statuses %+v", statuses)
	}

	o.Start(context.Background())
	waitFor(t, func() bool { return o.Status()[0].PushCount == 1 })
	st := o.Status()[0]
	if st.PullCount != 1 || st.LastError != "" {
		t.Errorf("unexpected status after clean cycle: %+v", st)
	}
}
