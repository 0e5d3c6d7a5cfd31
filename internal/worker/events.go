package worker

// Wire names for push events. Envelopes without an id carry one of these
// in their type field.
const (
	EventPatchProgress      = "patch_progress"
	EventPatchCompleted     = "patch_completed"
	EventPatchAllCompleted  = "patch_all_completed"
	EventPatchError         = "patch_error"
	EventPatchCancelled     = "patch_cancelled"
	EventIntegrityProgress  = "integrity_progress"
	EventIntegrityComplete  = "integrity_complete"
	EventIntegrityError     = "integrity_error"
	EventIntegrityCancelled = "integrity_cancelled"
)

// PatchProgressEvent reports the backend's view of the current patch unit.
type PatchProgressEvent struct {
	Phase            PatchPhase `json:"phase"`
	CurrentIndex     int        `json:"current_index"`
	TotalPatches     int        `json:"total_patches"`
	VersionID        string     `json:"version_id"`
	Repository       string     `json:"repository"`
	BytesProcessed   uint64     `json:"bytes_processed"`
	BytesTotal       uint64     `json:"bytes_total"`
	SpeedBytesPerSec float64    `json:"speed_bytes_per_sec"`
}

func (PatchProgressEvent) Kind() string { return EventPatchProgress }

// PatchCompletedEvent marks one patch unit finished. It does not end the run.
type PatchCompletedEvent struct {
	Index      int    `json:"index"`
	VersionID  string `json:"version_id"`
	Repository string `json:"repository"`
}

func (PatchCompletedEvent) Kind() string { return EventPatchCompleted }

// PatchAllCompletedEvent ends the run: every patch in the sequence applied.
type PatchAllCompletedEvent struct{}

func (PatchAllCompletedEvent) Kind() string { return EventPatchAllCompleted }

// PatchErrorEvent ends the run with a failure. Recoverable hints that a
// fresh start may succeed; nothing retries automatically.
type PatchErrorEvent struct {
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

func (PatchErrorEvent) Kind() string { return EventPatchError }

// PatchCancelledEvent acknowledges a cancel_patch request.
type PatchCancelledEvent struct{}

func (PatchCancelledEvent) Kind() string { return EventPatchCancelled }

// IntegrityProgressEvent reports verification progress.
type IntegrityProgressEvent struct {
	CurrentFile    string  `json:"current_file"`
	FilesChecked   uint32  `json:"files_checked"`
	TotalFiles     uint32  `json:"total_files"`
	BytesProcessed uint64  `json:"bytes_processed"`
	TotalBytes     uint64  `json:"total_bytes"`
	Percent        float64 `json:"percent"`
}

func (IntegrityProgressEvent) Kind() string { return EventIntegrityProgress }

// IntegrityCompleteEvent carries the terminal result of a verification pass.
type IntegrityCompleteEvent struct {
	Result IntegrityResult `json:"result"`
}

func (IntegrityCompleteEvent) Kind() string { return EventIntegrityComplete }

// IntegrityErrorEvent ends a verification pass with a failure.
type IntegrityErrorEvent struct {
	Message string `json:"message"`
}

func (IntegrityErrorEvent) Kind() string { return EventIntegrityError }

// IntegrityCancelledEvent acknowledges a cancel_integrity_check request.
type IntegrityCancelledEvent struct{}

func (IntegrityCancelledEvent) Kind() string { return EventIntegrityCancelled }
