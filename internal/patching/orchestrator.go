// Package patching tracks the lifecycle of patch runs executed by the
// backend daemon. The orchestrator holds the client-side view of the run:
// it issues start/cancel commands, folds push events into its state, and
// reconciles against the daemon's authoritative status on demand.
package patching

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gaveloc/launcher/internal/events"
	"github.com/gaveloc/launcher/internal/logging"
	"github.com/gaveloc/launcher/internal/runstate"
	"github.com/gaveloc/launcher/internal/worker"
)

var (
	// ErrRunActive is returned when a start is attempted while a run is
	// already in flight.
	ErrRunActive = runstate.ErrRunActive

	// ErrNotCancellable is returned when cancellation is requested in a
	// phase that must not be interrupted.
	ErrNotCancellable = errors.New("patching: run cannot be cancelled in its current phase")

	// ErrNotTerminal is returned by Reset when the run is still in flight.
	ErrNotTerminal = errors.New("patching: run has not finished")
)

// Kind distinguishes the two patchable targets.
type Kind string

const (
	KindBoot Kind = "boot"
	KindGame Kind = "game"
)

// CompletedPatch records one patch unit the daemon reported finished.
// The log is append-only for the duration of a run; duplicate reports
// are recorded as delivered.
type CompletedPatch struct {
	Index      int       `json:"index"`
	VersionID  string    `json:"version_id"`
	Repository string    `json:"repository"`
	FinishedAt time.Time `json:"finished_at"`
}

// Snapshot is a point-in-time copy of the orchestrator's state.
type Snapshot struct {
	Phase            worker.PatchPhase `json:"phase"`
	Kind             Kind              `json:"kind,omitempty"`
	RunID            uint64            `json:"run_id,omitempty"`
	CurrentIndex     int               `json:"current_index"`
	TotalPatches     int               `json:"total_patches"`
	VersionID        string            `json:"version_id,omitempty"`
	Repository       string            `json:"repository,omitempty"`
	BytesProcessed   uint64            `json:"bytes_processed"`
	BytesTotal       uint64            `json:"bytes_total"`
	SpeedBytesPerSec float64           `json:"speed_bytes_per_sec"`
	Percent          float64           `json:"percent"`
	CompletedPatches []CompletedPatch  `json:"completed_patches,omitempty"`
	LastError        string            `json:"last_error,omitempty"`
	Recoverable      bool              `json:"recoverable,omitempty"`
}

// Orchestrator serializes patch runs and mirrors the daemon's phase.
// At most one run is in flight at a time; events and poll responses
// belonging to a superseded run are discarded by run id.
type Orchestrator struct {
	cmds worker.Commands
	log  *slog.Logger

	// onAllCompleted fires after a run finishes with every patch applied
	// and the state has been reset to idle. Used to re-read version files.
	onAllCompleted func()

	mu    sync.Mutex
	guard runstate.Guard

	phase            worker.PatchPhase
	kind             Kind
	runID            uint64
	currentIndex     int
	totalPatches     int
	versionID        string
	repository       string
	bytesProcessed   uint64
	bytesTotal       uint64
	speedBytesPerSec float64
	completed        []CompletedPatch
	lastError        string
	recoverable      bool
}

// New creates an orchestrator driving the given command surface.
// onAllCompleted may be nil.
func New(cmds worker.Commands, onAllCompleted func()) *Orchestrator {
	return &Orchestrator{
		cmds:           cmds,
		log:            logging.L("patching"),
		onAllCompleted: onAllCompleted,
		phase:          worker.PhaseIdle,
	}
}

// StartBoot begins a boot patch run.
func (o *Orchestrator) StartBoot(ctx context.Context) error {
	return o.start(ctx, KindBoot, "")
}

// StartGame begins a game patch run using the account's registered session.
func (o *Orchestrator) StartGame(ctx context.Context, accountID string) error {
	return o.start(ctx, KindGame, accountID)
}

// start admits a new run. Terminal phases do not block it: a fresh start
// is the retry path, so it implicitly dismisses a finished run the same
// way Reset does.
func (o *Orchestrator) start(ctx context.Context, kind Kind, accountID string) error {
	o.mu.Lock()
	id, err := o.guard.Begin()
	if err != nil {
		o.mu.Unlock()
		return ErrRunActive
	}

	// Optimistic transition. The daemon's first progress event corrects
	// the phase if it starts elsewhere.
	o.resetRunLocked()
	o.phase = worker.PhaseDownloading
	o.kind = kind
	o.runID = id
	o.mu.Unlock()

	log := logging.WithRun(o.log, id)
	log.Info("starting patch run", "kind", kind)

	switch kind {
	case KindBoot:
		err = o.cmds.StartBootPatch(ctx)
	case KindGame:
		err = o.cmds.StartGamePatch(ctx, accountID)
	default:
		err = errors.New("patching: unknown kind")
	}

	if err != nil {
		o.mu.Lock()
		if o.guard.Matches(id) {
			o.phase = worker.PhaseFailed
			o.lastError = err.Error()
			o.recoverable = worker.IsKind(err, worker.KindNetwork) || worker.IsKind(err, worker.KindRejected)
			o.guard.End(id)
		}
		o.mu.Unlock()
		log.Error("patch run rejected", logging.KeyError, err)
		return err
	}
	return nil
}

// CanCancel reports whether the current run may be cancelled. Runs in the
// Applying phase must not be interrupted: a partially applied patch can
// corrupt the installation.
func (o *Orchestrator) CanCancel() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase.Running() && o.phase != worker.PhaseApplying
}

// Cancel requests cancellation of the active run. The request is
// best-effort: the Cancelled phase arrives later via the event stream,
// and a failed cancel command is logged, not surfaced, because the run
// keeps going either way.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	if !o.phase.Running() {
		o.mu.Unlock()
		return ErrNotCancellable
	}
	if o.phase == worker.PhaseApplying {
		o.mu.Unlock()
		return ErrNotCancellable
	}
	id := o.runID
	o.mu.Unlock()

	if err := o.cmds.CancelPatch(ctx); err != nil {
		logging.WithRun(o.log, id).Warn("cancel request failed", logging.KeyError, err)
	}
	return nil
}

// Reset acknowledges a finished run and returns the orchestrator to idle.
func (o *Orchestrator) Reset() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.phase.Terminal() {
		return ErrNotTerminal
	}
	o.resetRunLocked()
	o.phase = worker.PhaseIdle
	return nil
}

// resetRunLocked clears per-run state. Callers hold o.mu.
func (o *Orchestrator) resetRunLocked() {
	o.kind = ""
	o.runID = 0
	o.currentIndex = 0
	o.totalPatches = 0
	o.versionID = ""
	o.repository = ""
	o.bytesProcessed = 0
	o.bytesTotal = 0
	o.speedBytesPerSec = 0
	o.completed = nil
	o.lastError = ""
	o.recoverable = false
}

// Run consumes the subscription until the context is cancelled or the
// subscription closes. Non-patch events pass through untouched.
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

// HandleEvent folds one push event into the run state.
func (o *Orchestrator) HandleEvent(ev events.Event) {
	switch e := ev.(type) {
	case worker.PatchProgressEvent:
		o.applyProgress(e)
	case worker.PatchCompletedEvent:
		o.applyCompleted(e)
	case worker.PatchAllCompletedEvent:
		o.applyAllCompleted()
	case worker.PatchErrorEvent:
		o.applyError(e)
	case worker.PatchCancelledEvent:
		o.applyCancelled()
	}
}

func (o *Orchestrator) applyProgress(e worker.PatchProgressEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	// A progress event with no run in flight is stale. Ignore it rather
	// than resurrecting a finished run.
	if !o.phase.Running() {
		return
	}

	if e.Phase.Running() {
		o.phase = e.Phase
	}
	o.currentIndex = e.CurrentIndex
	o.totalPatches = e.TotalPatches
	o.versionID = e.VersionID
	o.repository = e.Repository
	o.bytesProcessed = e.BytesProcessed
	o.bytesTotal = e.BytesTotal
	o.speedBytesPerSec = e.SpeedBytesPerSec
}

func (o *Orchestrator) applyCompleted(e worker.PatchCompletedEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.phase.Running() {
		return
	}
	o.completed = append(o.completed, CompletedPatch{
		Index:      e.Index,
		VersionID:  e.VersionID,
		Repository: e.Repository,
		FinishedAt: time.Now(),
	})
}

func (o *Orchestrator) applyAllCompleted() {
	o.mu.Lock()
	if !o.phase.Running() {
		o.mu.Unlock()
		return
	}

	id := o.runID
	count := len(o.completed)
	o.guard.End(id)
	o.resetRunLocked()
	o.phase = worker.PhaseIdle
	hook := o.onAllCompleted
	o.mu.Unlock()

	logging.WithRun(o.log, id).Info("patch run completed", "patches_applied", count)
	if hook != nil {
		hook()
	}
}

func (o *Orchestrator) applyError(e worker.PatchErrorEvent) {
	o.mu.Lock()
	if !o.phase.Running() {
		o.mu.Unlock()
		return
	}

	id := o.runID
	o.phase = worker.PhaseFailed
	o.lastError = e.Message
	o.recoverable = e.Recoverable
	o.guard.End(id)
	o.mu.Unlock()

	logging.WithRun(o.log, id).Error("patch run failed",
		logging.KeyError, e.Message, "recoverable", e.Recoverable)
}

func (o *Orchestrator) applyCancelled() {
	o.mu.Lock()
	if !o.phase.Running() {
		o.mu.Unlock()
		return
	}

	id := o.runID
	o.phase = worker.PhaseCancelled
	o.guard.End(id)
	o.mu.Unlock()

	logging.WithRun(o.log, id).Info("patch run cancelled")
}

// Reconcile polls the daemon's authoritative status and realigns local
// state. Responses for a superseded run are discarded. Used on startup
// and after reconnects, when push events may have been missed.
func (o *Orchestrator) Reconcile(ctx context.Context) error {
	o.mu.Lock()
	id := o.runID
	hadRun := o.phase.Running()
	o.mu.Unlock()

	status, err := o.cmds.GetPatchStatus(ctx)
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	// Run ids are monotonic, so any run started or adopted while the poll
	// was in flight shows up as a changed id. The response then describes
	// a state older than what we already track.
	if o.runID != id || (hadRun && !o.guard.Matches(id)) {
		return nil
	}

	if status.IsPatching {
		if !o.phase.Running() {
			// Daemon has a run we never started locally (another client,
			// or state lost across restart). Adopt it.
			newID, err := o.guard.Begin()
			if err == nil {
				o.resetRunLocked()
				o.runID = newID
			}
		}
		if status.Phase.Running() {
			o.phase = status.Phase
		} else {
			o.phase = worker.PhaseDownloading
		}
		o.currentIndex = status.CurrentPatchIndex
		o.totalPatches = status.TotalPatches
		o.versionID = status.CurrentVersionID
		o.repository = status.CurrentRepository
		o.bytesProcessed = status.BytesDownloaded
		o.bytesTotal = status.BytesTotal
		o.speedBytesPerSec = status.SpeedBytesPerSec
		return nil
	}

	// Daemon is idle. If we still think a run is in flight, its terminal
	// event was lost; fold the run quietly.
	if o.phase.Running() {
		logging.WithRun(o.log, o.runID).Warn("run ended while disconnected, resetting")
		o.guard.End(o.runID)
		o.resetRunLocked()
		o.phase = worker.PhaseIdle
	}
	return nil
}

// Snapshot returns a copy of the current state.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	completed := make([]CompletedPatch, len(o.completed))
	copy(completed, o.completed)

	return Snapshot{
		Phase:            o.phase,
		Kind:             o.kind,
		RunID:            o.runID,
		CurrentIndex:     o.currentIndex,
		TotalPatches:     o.totalPatches,
		VersionID:        o.versionID,
		Repository:       o.repository,
		BytesProcessed:   o.bytesProcessed,
		BytesTotal:       o.bytesTotal,
		SpeedBytesPerSec: o.speedBytesPerSec,
		Percent:          runstate.Percent(o.bytesProcessed, o.bytesTotal),
		CompletedPatches: completed,
		LastError:        o.lastError,
		Recoverable:      o.recoverable,
	}
}
