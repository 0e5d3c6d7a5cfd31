// Package worker defines the contract with the backend patcher daemon:
// the asynchronous command surface, the typed push-event stream, and a
// WebSocket client implementing both.
package worker

import "context"

// PatchPhase is the backend-reported phase of a patch run. The backend is
// authoritative; the orchestrator never infers a phase on its own except
// for the optimistic Downloading on start and Failed on command rejection.
type PatchPhase string

const (
	PhaseIdle        PatchPhase = "Idle"
	PhaseDownloading PatchPhase = "Downloading"
	PhaseVerifying   PatchPhase = "Verifying"
	PhaseApplying    PatchPhase = "Applying"
	PhaseCompleted   PatchPhase = "Completed"
	PhaseFailed      PatchPhase = "Failed"
	PhaseCancelled   PatchPhase = "Cancelled"
)

// Running reports whether the phase denotes an in-flight run.
func (p PatchPhase) Running() bool {
	switch p {
	case PhaseDownloading, PhaseVerifying, PhaseApplying:
		return true
	}
	return false
}

// Terminal reports whether the phase ends a run.
func (p PatchPhase) Terminal() bool {
	switch p {
	case PhaseCompleted, PhaseFailed, PhaseCancelled:
		return true
	}
	return false
}

// PatchStatus is the authoritative snapshot returned by get_patch_status.
type PatchStatus struct {
	IsPatching        bool       `json:"is_patching"`
	Phase             PatchPhase `json:"phase"`
	CurrentPatchIndex int        `json:"current_patch_index"`
	TotalPatches      int        `json:"total_patches"`
	CurrentVersionID  string     `json:"current_version_id,omitempty"`
	CurrentRepository string     `json:"current_repository,omitempty"`
	BytesDownloaded   uint64     `json:"bytes_downloaded"`
	BytesTotal        uint64     `json:"bytes_total"`
	SpeedBytesPerSec  float64    `json:"speed_bytes_per_sec"`
}

// IntegrityStatus is the authoritative snapshot returned by get_integrity_status.
type IntegrityStatus struct {
	IsChecking     bool   `json:"is_checking"`
	CurrentFile    string `json:"current_file,omitempty"`
	FilesChecked   uint32 `json:"files_checked"`
	TotalFiles     uint32 `json:"total_files"`
	BytesProcessed uint64 `json:"bytes_processed"`
	TotalBytes     uint64 `json:"total_bytes"`
}

// ProblemStatus classifies a file that failed verification.
type ProblemStatus string

const (
	StatusValid      ProblemStatus = "Valid"
	StatusMismatch   ProblemStatus = "Mismatch"
	StatusMissing    ProblemStatus = "Missing"
	StatusUnreadable ProblemStatus = "Unreadable"
)

// ProblemEntry describes one file the verifier flagged. ActualHash is empty
// when the file was missing or could not be read.
type ProblemEntry struct {
	RelativePath string        `json:"relative_path"`
	Status       ProblemStatus `json:"status"`
	ExpectedHash string        `json:"expected_hash"`
	ActualHash   string        `json:"actual_hash,omitempty"`
}

// IntegrityResult is the immutable outcome of one verification pass.
type IntegrityResult struct {
	TotalFiles      uint32         `json:"total_files"`
	ValidCount      uint32         `json:"valid_count"`
	MismatchCount   uint32         `json:"mismatch_count"`
	MissingCount    uint32         `json:"missing_count"`
	UnreadableCount uint32         `json:"unreadable_count"`
	Problems        []ProblemEntry `json:"problems"`
}

// Consistent reports whether the counts add up: every file is accounted
// for and each problem entry is reflected in exactly one counter.
func (r *IntegrityResult) Consistent() bool {
	problems := r.MismatchCount + r.MissingCount + r.UnreadableCount
	return r.ValidCount+problems == r.TotalFiles && uint32(len(r.Problems)) == problems
}

// FileToRepair identifies one file the worker should delete so the next
// patch run restores it.
type FileToRepair struct {
	RelativePath string `json:"relative_path"`
	ExpectedHash string `json:"expected_hash"`
}

// RepairResult counts per-file outcomes of a repair_files command.
type RepairResult struct {
	SuccessCount uint32 `json:"success_count"`
	FailureCount uint32 `json:"failure_count"`
}

// Commands is the asynchronous command surface of the patcher daemon.
// Every call suspends until the daemon acknowledges; the heavy I/O keeps
// running in the daemon after the call returns. Cancel commands are
// best-effort: acknowledgment arrives via the event stream, not the call.
type Commands interface {
	StartBootPatch(ctx context.Context) error
	StartGamePatch(ctx context.Context, accountID string) error
	CancelPatch(ctx context.Context) error
	GetPatchStatus(ctx context.Context) (PatchStatus, error)

	VerifyIntegrity(ctx context.Context) (*IntegrityResult, error)
	CancelIntegrityCheck(ctx context.Context) error
	GetIntegrityStatus(ctx context.Context) (IntegrityStatus, error)
	RepairFiles(ctx context.Context, files []FileToRepair) (RepairResult, error)
}
