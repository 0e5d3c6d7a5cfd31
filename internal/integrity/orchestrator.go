// Package integrity drives file verification and repair against the
// backend daemon. Verification results arrive on two paths: the blocking
// verify call resolves with the result, and the same result is pushed as
// an event. The orchestrator converges both onto one held result, keyed
// by run id so a resolution from a superseded run never lands.
package integrity

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/gaveloc/launcher/internal/events"
	"github.com/gaveloc/launcher/internal/logging"
	"github.com/gaveloc/launcher/internal/runstate"
	"github.com/gaveloc/launcher/internal/worker"
)

var (
	// ErrCheckActive is returned when a verification is already in flight.
	ErrCheckActive = runstate.ErrRunActive

	// ErrNotChecking is returned when cancellation is requested with no
	// verification in flight.
	ErrNotChecking = errors.New("integrity: no verification in flight")

	// ErrRepairWhileChecking is returned when a repair is requested while
	// a verification is still running.
	ErrRepairWhileChecking = errors.New("integrity: verification still in flight")
)

// State is the client-side verification state. Progress and result are
// mutually exclusive: Checking carries progress, ResultAvailable carries
// the result.
type State string

const (
	StateIdle            State = "Idle"
	StateChecking        State = "Checking"
	StateResultAvailable State = "ResultAvailable"
	StateError           State = "Error"
)

// Progress mirrors the daemon's verification progress.
type Progress struct {
	CurrentFile    string  `json:"current_file,omitempty"`
	FilesChecked   uint32  `json:"files_checked"`
	TotalFiles     uint32  `json:"total_files"`
	BytesProcessed uint64  `json:"bytes_processed"`
	TotalBytes     uint64  `json:"total_bytes"`
	Percent        float64 `json:"percent"`
}

// Snapshot is a point-in-time copy of the orchestrator's state.
type Snapshot struct {
	State     State                   `json:"state"`
	RunID     uint64                  `json:"run_id,omitempty"`
	Progress  Progress                `json:"progress"`
	Result    *worker.IntegrityResult `json:"result,omitempty"`
	LastError string                  `json:"last_error,omitempty"`
}

// Orchestrator serializes verification runs and holds the latest result
// until a repair consumes it or a new run replaces it.
type Orchestrator struct {
	cmds worker.Commands
	log  *slog.Logger

	mu    sync.Mutex
	guard runstate.Guard

	state     State
	runID     uint64
	progress  Progress
	result    *worker.IntegrityResult
	lastError string
}

// New creates an orchestrator driving the given command surface.
func New(cmds worker.Commands) *Orchestrator {
	return &Orchestrator{
		cmds:  cmds,
		log:   logging.L("integrity"),
		state: StateIdle,
	}
}

// StartVerify begins a verification run. It returns once the run is
// admitted; the result arrives asynchronously. Starting a new run
// replaces any held result.
func (o *Orchestrator) StartVerify(ctx context.Context) error {
	o.mu.Lock()
	id, err := o.guard.Begin()
	if err != nil {
		o.mu.Unlock()
		return ErrCheckActive
	}

	o.state = StateChecking
	o.runID = id
	o.progress = Progress{}
	o.result = nil
	o.lastError = ""
	o.mu.Unlock()

	logging.WithRun(o.log, id).Info("starting verification")

	go o.verify(ctx, id)
	return nil
}

// verify performs the blocking verify call and applies its resolution,
// unless a pushed event already resolved this run.
func (o *Orchestrator) verify(ctx context.Context, id uint64) {
	log := logging.WithRun(o.log, id)

	result, err := o.cmds.VerifyIntegrity(ctx)

	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.guard.Matches(id) {
		log.Debug("discarding verify resolution for superseded run")
		return
	}

	o.guard.End(id)
	if err != nil {
		if worker.IsKind(err, worker.KindCancelled) {
			o.state = StateIdle
			o.progress = Progress{}
			log.Info("verification cancelled")
			return
		}
		o.state = StateError
		o.lastError = err.Error()
		o.progress = Progress{}
		log.Error("verification failed", logging.KeyError, err)
		return
	}

	o.state = StateResultAvailable
	o.result = result
	o.progress = Progress{}
	log.Info("verification complete",
		"total", result.TotalFiles, "problems", len(result.Problems))
}

// CancelVerify requests cancellation of the active verification. Like
// patch cancellation it is best-effort: command failures are logged and
// the state changes only when the daemon confirms.
func (o *Orchestrator) CancelVerify(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateChecking {
		o.mu.Unlock()
		return ErrNotChecking
	}
	id := o.runID
	o.mu.Unlock()

	if err := o.cmds.CancelIntegrityCheck(ctx); err != nil {
		logging.WithRun(o.log, id).Warn("cancel request failed", logging.KeyError, err)
	}
	return nil
}

// Repairable filters a result down to the entries a repair can fix.
// Mismatched and missing files are restored by deleting and repatching;
// unreadable files point at permission or hardware trouble deletion
// would only make worse.
func Repairable(result *worker.IntegrityResult) []worker.ProblemEntry {
	if result == nil {
		return nil
	}
	return filterRepairable(result.Problems)
}

func filterRepairable(problems []worker.ProblemEntry) []worker.ProblemEntry {
	var out []worker.ProblemEntry
	for _, p := range problems {
		if p.Status == worker.StatusMismatch || p.Status == worker.StatusMissing {
			out = append(out, p)
		}
	}
	return out
}

// RepairableCount reports how many of the result's problems a repair
// would address.
func RepairableCount(result *worker.IntegrityResult) int {
	return len(Repairable(result))
}

// Repair deletes every repairable file from the held result so the next
// patch run restores them, then clears the result.
func (o *Orchestrator) Repair(ctx context.Context) (worker.RepairResult, error) {
	o.mu.Lock()
	if o.state == StateChecking {
		o.mu.Unlock()
		return worker.RepairResult{}, ErrRepairWhileChecking
	}
	var problems []worker.ProblemEntry
	if o.result != nil {
		problems = o.result.Problems
	}
	o.mu.Unlock()

	return o.RepairFiles(ctx, problems)
}

// RepairFiles filters the given problems down to the repairable ones and
// asks the daemon to delete them. With nothing repairable it returns a
// zero result without contacting the daemon. Once the repair command
// succeeds the held result is cleared even if some deletions failed: the
// surviving files no longer match what the result describes, so the only
// honest next step is a fresh verification or a patch run.
func (o *Orchestrator) RepairFiles(ctx context.Context, problems []worker.ProblemEntry) (worker.RepairResult, error) {
	repairable := filterRepairable(problems)
	if len(repairable) == 0 {
		return worker.RepairResult{}, nil
	}

	files := make([]worker.FileToRepair, len(repairable))
	for i, p := range repairable {
		files[i] = worker.FileToRepair{
			RelativePath: p.RelativePath,
			ExpectedHash: p.ExpectedHash,
		}
	}

	o.log.Info("repairing files", "count", len(files))
	result, err := o.cmds.RepairFiles(ctx, files)
	if err != nil {
		o.log.Error("repair failed", logging.KeyError, err)
		return worker.RepairResult{}, err
	}

	o.log.Info("repair finished",
		"succeeded", result.SuccessCount, "failed", result.FailureCount)

	o.mu.Lock()
	if o.state == StateResultAvailable {
		o.state = StateIdle
		o.result = nil
	}
	o.mu.Unlock()
	return result, nil
}

// ClearError dismisses a held verification error. It is a no-op in any
// other state: results are consumed by Repair or replaced by a new run.
func (o *Orchestrator) ClearError() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateError {
		o.state = StateIdle
		o.lastError = ""
	}
}

// Run consumes the subscription until the context is cancelled or the
// subscription closes.
func (o *Orchestrator) Run(ctx context.Context, sub *events.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			o.HandleEvent(ev)
		}
	}
}

// HandleEvent folds one push event into the verification state.
func (o *Orchestrator) HandleEvent(ev events.Event) {
	switch e := ev.(type) {
	case worker.IntegrityProgressEvent:
		o.applyProgress(e)
	case worker.IntegrityCompleteEvent:
		o.applyComplete(e)
	case worker.IntegrityErrorEvent:
		o.applyError(e)
	case worker.IntegrityCancelledEvent:
		o.applyCancelled()
	}
}

func (o *Orchestrator) applyProgress(e worker.IntegrityProgressEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// Progress proves the daemon is checking. If we did not start the run
	// ourselves, adopt it so the single-flight gate holds.
	if o.state != StateChecking {
		id, err := o.guard.Begin()
		if err != nil {
			return
		}
		o.runID = id
		o.state = StateChecking
		o.result = nil
		o.lastError = ""
	}

	o.progress = Progress{
		CurrentFile:    e.CurrentFile,
		FilesChecked:   e.FilesChecked,
		TotalFiles:     e.TotalFiles,
		BytesProcessed: e.BytesProcessed,
		TotalBytes:     e.TotalBytes,
		Percent:        e.Percent,
	}
	if o.progress.Percent == 0 && e.TotalBytes > 0 {
		o.progress.Percent = runstate.Percent(e.BytesProcessed, e.TotalBytes)
	}
}

func (o *Orchestrator) applyComplete(e worker.IntegrityCompleteEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateChecking {
		return
	}

	id := o.runID
	o.guard.End(id)
	result := e.Result
	o.state = StateResultAvailable
	o.result = &result
	o.progress = Progress{}

	logging.WithRun(o.log, id).Info("verification complete",
		"total", result.TotalFiles, "problems", len(result.Problems))
}

func (o *Orchestrator) applyError(e worker.IntegrityErrorEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateChecking {
		return
	}

	id := o.runID
	o.guard.End(id)
	o.state = StateError
	o.lastError = e.Message
	o.progress = Progress{}

	logging.WithRun(o.log, id).Error("verification failed", logging.KeyError, e.Message)
}

func (o *Orchestrator) applyCancelled() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state != StateChecking {
		return
	}

	id := o.runID
	o.guard.End(id)
	o.state = StateIdle
	o.progress = Progress{}

	logging.WithRun(o.log, id).Info("verification cancelled")
}

// Reconcile polls the daemon's authoritative status and realigns local
// state after startup or a reconnect.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	o.mu.Lock()
	id := o.runID
	wasChecking := o.state == StateChecking
	o.mu.Unlock()

	status, err := o.cmds.GetIntegrityStatus(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Run ids are monotonic, so a run started or adopted while the poll
	// was in flight shows up as a changed id. Discard the older view.
	if o.runID != id || (wasChecking && !o.guard.Matches(id)) {
		return nil
	}

	if status.IsChecking {
		if o.state != StateChecking {
			id, err := o.guard.Begin()
			if err != nil {
				return nil
			}
			o.runID = id
			o.state = StateChecking
			o.result = nil
			o.lastError = ""
		}
		o.progress = Progress{
			CurrentFile:    status.CurrentFile,
			FilesChecked:   status.FilesChecked,
			TotalFiles:     status.TotalFiles,
			BytesProcessed: status.BytesProcessed,
			TotalBytes:     status.TotalBytes,
			Percent:        runstate.Percent(status.BytesProcessed, status.TotalBytes),
		}
		return nil
	}

	// Daemon is idle. The run ended while we were not listening; fold it.
	// If a verify call for this run is still pending it resolves against
	// a superseded run id and is discarded.
	if o.state == StateChecking {
		logging.WithRun(o.log, o.runID).Warn("verification ended while disconnected, resetting")
		o.guard.End(o.runID)
		o.state = StateIdle
		o.progress = Progress{}
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		State:     o.state,
		RunID:     o.runID,
		Progress:  o.progress,
		LastError: o.lastError,
	}
	if o.result != nil {
		r := *o.result
		r.Problems = make([]worker.ProblemEntry, len(o.result.Problems))
		copy(r.Problems, o.result.Problems)
		snap.Result = &r
	}
	return snap
}
