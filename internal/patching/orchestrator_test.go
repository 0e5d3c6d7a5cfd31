package patching

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/gaveloc/launcher/internal/worker"
)

// fakeCommands records calls and returns scripted results.
type fakeCommands struct {
	mu sync.Mutex

	startBootErr error
	startGameErr error
	cancelErr    error
	status       worker.PatchStatus
	statusErr    error
	statusHook   func()

	startBootCalls int
	startGameCalls int
	gameAccountID  string
	cancelCalls    int
}

func (f *fakeCommands) StartBootPatch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startBootCalls++
	return f.startBootErr
}

func (f *fakeCommands) StartGamePatch(ctx context.Context, accountID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startGameCalls++
	f.gameAccountID = accountID
	return f.startGameErr
}

func (f *fakeCommands) CancelPatch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCalls++
	return f.cancelErr
}

func (f *fakeCommands) GetPatchStatus(ctx context.Context) (worker.PatchStatus, error) {
	f.mu.Lock()
	hook := f.statusHook
	status, err := f.status, f.statusErr
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return status, err
}

func (f *fakeCommands) VerifyIntegrity(ctx context.Context) (*worker.IntegrityResult, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCommands) CancelIntegrityCheck(ctx context.Context) error { return nil }

func (f *fakeCommands) GetIntegrityStatus(ctx context.Context) (worker.IntegrityStatus, error) {
	return worker.IntegrityStatus{}, nil
}

func (f *fakeCommands) RepairFiles(ctx context.Context, files []worker.FileToRepair) (worker.RepairResult, error) {
	return worker.RepairResult{}, nil
}

func TestStartTransitionsToDownloading(t *testing.T) {
	fake := &fakeCommands{}
	o := New(fake, nil)

	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("StartBoot failed: %v", err)
	}

	snap := o.Snapshot()
	if snap.Phase != worker.PhaseDownloading {
		t.Errorf("phase = %q, want %q", snap.Phase, worker.PhaseDownloading)
	}
	if snap.Kind != KindBoot {
		t.Errorf("kind = %q, want %q", snap.Kind, KindBoot)
	}
	if fake.startBootCalls != 1 {
		t.Errorf("startBootCalls = %d, want 1", fake.startBootCalls)
	}
}

func TestStartRejectedWhileRunning(t *testing.T) {
	o := New(&fakeCommands{}, nil)

	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("first StartBoot failed: %v", err)
	}
	if err := o.StartGame(context.Background(), "acct-1"); !errors.Is(err, ErrRunActive) {
		t.Fatalf("second start error = %v, want ErrRunActive", err)
	}
}

func TestStartFailureMarksFailed(t *testing.T) {
	fake := &fakeCommands{startGameErr: worker.NewError(worker.KindRejected, "busy")}
	o := New(fake, nil)

	err := o.StartGame(context.Background(), "acct-1")
	if err == nil {
		t.Fatal("expected start to surface the rejection")
	}

	snap := o.Snapshot()
	if snap.Phase != worker.PhaseFailed {
		t.Errorf("phase = %q, want %q", snap.Phase, worker.PhaseFailed)
	}
	if snap.LastError == "" {
		t.Error("expected last error to be recorded")
	}
	if fake.gameAccountID != "acct-1" {
		t.Errorf("account id = %q, want acct-1", fake.gameAccountID)
	}
}

func TestProgressEventUpdatesState(t *testing.T) {
	o := New(&fakeCommands{}, nil)
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("StartBoot failed: %v", err)
	}

	o.HandleEvent(worker.PatchProgressEvent{
		Phase:          worker.PhaseVerifying,
		CurrentIndex:   3,
		TotalPatches:   7,
		VersionID:      "2026.08.01.0000.0001",
		Repository:     "game",
		BytesProcessed: 500,
		BytesTotal:     1000,
	})

	snap := o.Snapshot()
	if snap.Phase != worker.PhaseVerifying {
		t.Errorf("phase = %q, want %q", snap.Phase, worker.PhaseVerifying)
	}
	if snap.CurrentIndex != 3 || snap.TotalPatches != 7 {
		t.Errorf("index = %d/%d, want 3/7", snap.CurrentIndex, snap.TotalPatches)
	}
	if snap.Percent != 50 {
		t.Errorf("percent = %v, want 50", snap.Percent)
	}
}

func TestProgressIgnoredWhileIdle(t *testing.T) {
	o := New(&fakeCommands{}, nil)

	o.HandleEvent(worker.PatchProgressEvent{Phase: worker.PhaseDownloading, BytesProcessed: 10})

	snap := o.Snapshot()
	if snap.Phase != worker.PhaseIdle {
		t.Errorf("phase = %q, want %q", snap.Phase, worker.PhaseIdle)
	}
	if snap.BytesProcessed != 0 {
		t.Errorf("bytes processed = %d, want 0", snap.BytesProcessed)
	}
}

func TestCompletedPatchesAppendWithDuplicates(t *testing.T) {
	o := New(&fakeCommands{}, nil)
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("StartBoot failed: %v", err)
	}

	ev := worker.PatchCompletedEvent{Index: 0, VersionID: "v1", Repository: "boot"}
	o.HandleEvent(ev)
	o.HandleEvent(ev) // duplicate delivery is recorded as delivered
	o.HandleEvent(worker.PatchCompletedEvent{Index: 1, VersionID: "v2", Repository: "boot"})

	snap := o.Snapshot()
	if len(snap.CompletedPatches) != 3 {
		t.Fatalf("completed = %d entries, want 3", len(snap.CompletedPatches))
	}
	if snap.CompletedPatches[1].VersionID != "v1" {
		t.Errorf("duplicate entry version = %q, want v1", snap.CompletedPatches[1].VersionID)
	}
}

func TestAllCompletedResetsToIdleAndFiresHook(t *testing.T) {
	hookCalls := 0
	o := New(&fakeCommands{}, func() { hookCalls++ })
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("StartBoot failed: %v", err)
	}

	o.HandleEvent(worker.PatchCompletedEvent{Index: 0, VersionID: "v1"})
	o.HandleEvent(worker.PatchAllCompletedEvent{})

	snap := o.Snapshot()
	if snap.Phase != worker.PhaseIdle {
		t.Errorf("phase = %q, want %q", snap.Phase, worker.PhaseIdle)
	}
	if hookCalls != 1 {
		t.Errorf("hook fired %d times, want 1", hookCalls)
	}

	// A fresh run can start immediately, no Reset needed.
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("restart after completion failed: %v", err)
	}
	if got := len(o.Snapshot().CompletedPatches); got != 0 {
		t.Errorf("completed log carried over: %d entries", got)
	}
}

func TestErrorEventHeldUntilDismissed(t *testing.T) {
	o := New(&fakeCommands{}, nil)
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("StartBoot failed: %v", err)
	}

	o.HandleEvent(worker.PatchErrorEvent{Message: "disk full", Recoverable: true})

	snap := o.Snapshot()
	if snap.Phase != worker.PhaseFailed {
		t.Errorf("phase = %q, want %q", snap.Phase, worker.PhaseFailed)
	}
	if snap.LastError != "disk full" || !snap.Recoverable {
		t.Errorf("error = %q recoverable=%v", snap.LastError, snap.Recoverable)
	}

	if err := o.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	snap = o.Snapshot()
	if snap.Phase != worker.PhaseIdle || snap.LastError != "" || snap.BytesProcessed != 0 {
		t.Errorf("snapshot after Reset = %+v", snap)
	}
}

func TestStartFromTerminalPhaseIsTheRetryPath(t *testing.T) {
	o := New(&fakeCommands{}, nil)
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("StartBoot failed: %v", err)
	}
	o.HandleEvent(worker.PatchErrorEvent{Message: "boom"})

	// No Reset needed: a fresh start dismisses the failed run.
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("retry start failed: %v", err)
	}
	snap := o.Snapshot()
	if snap.Phase != worker.PhaseDownloading || snap.LastError != "" {
		t.Errorf("snapshot after retry = %+v", snap)
	}
}

func TestResetRejectedWhileRunning(t *testing.T) {
	o := New(&fakeCommands{}, nil)
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("StartBoot failed: %v", err)
	}
	if err := o.Reset(); !errors.Is(err, ErrNotTerminal) {
		t.Fatalf("Reset error = %v, want ErrNotTerminal", err)
	}
}

func TestCancelDuringApplyingRejected(t *testing.T) {
	fake := &fakeCommands{}
	o := New(fake, nil)
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("StartBoot failed: %v", err)
	}

	o.HandleEvent(worker.PatchProgressEvent{Phase: worker.PhaseApplying})

	if o.CanCancel() {
		t.Error("CanCancel should be false during Applying")
	}
	if err := o.Cancel(context.Background()); !errors.Is(err, ErrNotCancellable) {
		t.Fatalf("Cancel error = %v, want ErrNotCancellable", err)
	}
	if fake.cancelCalls != 0 {
		t.Errorf("cancel command issued %d times, want 0", fake.cancelCalls)
	}
}

func TestCancelCommandFailureNotSurfaced(t *testing.T) {
	fake := &fakeCommands{cancelErr: worker.NewError(worker.KindNetwork, "gone")}
	o := New(fake, nil)
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("StartBoot failed: %v", err)
	}

	if err := o.Cancel(context.Background()); err != nil {
		t.Fatalf("Cancel surfaced command failure: %v", err)
	}
	if fake.cancelCalls != 1 {
		t.Errorf("cancel command issued %d times, want 1", fake.cancelCalls)
	}

	// The run stays in flight until the daemon says otherwise.
	if got := o.Snapshot().Phase; got != worker.PhaseDownloading {
		t.Errorf("phase = %q, want %q", got, worker.PhaseDownloading)
	}

	o.HandleEvent(worker.PatchCancelledEvent{})
	if got := o.Snapshot().Phase; got != worker.PhaseCancelled {
		t.Errorf("phase = %q, want %q", got, worker.PhaseCancelled)
	}
}

func TestStaleEventsAfterTerminalIgnored(t *testing.T) {
	o := New(&fakeCommands{}, nil)
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("StartBoot failed: %v", err)
	}

	o.HandleEvent(worker.PatchErrorEvent{Message: "boom"})
	o.HandleEvent(worker.PatchProgressEvent{Phase: worker.PhaseDownloading, BytesProcessed: 99})
	o.HandleEvent(worker.PatchCompletedEvent{Index: 5})

	snap := o.Snapshot()
	if snap.Phase != worker.PhaseFailed {
		t.Errorf("phase = %q, want %q", snap.Phase, worker.PhaseFailed)
	}
	if snap.BytesProcessed != 0 || len(snap.CompletedPatches) != 0 {
		t.Error("stale events mutated terminal state")
	}
}

func TestReconcileAdoptsBackendRun(t *testing.T) {
	fake := &fakeCommands{status: worker.PatchStatus{
		IsPatching:        true,
		Phase:             worker.PhaseApplying,
		CurrentPatchIndex: 4,
		TotalPatches:      9,
		BytesDownloaded:   100,
		BytesTotal:        200,
	}}
	o := New(fake, nil)

	if err := o.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	snap := o.Snapshot()
	if snap.Phase != worker.PhaseApplying {
		t.Errorf("phase = %q, want %q", snap.Phase, worker.PhaseApplying)
	}
	if snap.CurrentIndex != 4 || snap.TotalPatches != 9 {
		t.Errorf("index = %d/%d, want 4/9", snap.CurrentIndex, snap.TotalPatches)
	}

	// The adopted run occupies the single-flight slot.
	if err := o.StartBoot(context.Background()); !errors.Is(err, ErrRunActive) {
		t.Fatalf("start error = %v, want ErrRunActive", err)
	}
}

func TestReconcileDiscardsStalePollWhenRunStartsMeanwhile(t *testing.T) {
	fake := &fakeCommands{}
	o := New(fake, nil)

	// The run begins after the status poll was issued but before its idle
	// response is applied. The response describes an older state and must
	// not fold the new run.
	fake.statusHook = func() {
		if err := o.StartBoot(context.Background()); err != nil {
			t.Errorf("StartBoot failed: %v", err)
		}
	}

	if err := o.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if got := o.Snapshot().Phase; got != worker.PhaseDownloading {
		t.Errorf("phase = %q, want %q", got, worker.PhaseDownloading)
	}
}

func TestReconcileResetsWhenBackendIdle(t *testing.T) {
	fake := &fakeCommands{}
	o := New(fake, nil)
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("StartBoot failed: %v", err)
	}

	// Backend reports idle: the terminal event was lost.
	if err := o.Reconcile(context.Background()); err != nil {
		t.Fatalf("Reconcile failed: %v", err)
	}

	if got := o.Snapshot().Phase; got != worker.PhaseIdle {
		t.Errorf("phase = %q, want %q", got, worker.PhaseIdle)
	}
	if err := o.StartBoot(context.Background()); err != nil {
		t.Fatalf("start after reconcile failed: %v", err)
	}
}
