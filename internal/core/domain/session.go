package domain

type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseUploading Phase = "uploading"
	PhaseStreaming Phase = "streaming"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// InFlight reports whether a batch is being uploaded or streamed.
func (p Phase) InFlight() bool {
	return p == PhaseUploading || p == PhaseStreaming
}

// BatchSession is a read-only snapshot of the client-side batch lifecycle.
type BatchSession struct {
	BatchID           ID    `json:"batch_id,omitempty"`
	Phase             Phase `json:"phase"`
	HadQuotaError     bool  `json:"had_quota_error"`
	FailedBeforeStart bool  `json:"failed_before_start,omitempty"`
	ChatInFlight      bool  `json:"chat_in_flight,omitempty"`
	FileCount         int   `json:"file_count"`
}

// Controls are the enablement flags presentations read after every transition.
type Controls struct {
	CanUpload               bool
	CanSubmitChat           bool
	CanSubmitNewInstruction bool
	ChatPlaceholder         string
}

const (
	PlaceholderIdle           = "Upload files to start an analysis."
	PlaceholderInProgress     = "Analysis in progress..."
	PlaceholderChatReady      = "Ask a question about the analyzed batch..."
	PlaceholderChatPending    = "Waiting for the assistant..."
	PlaceholderQuota          = "Chat disabled (AI usage limit reached)"
	PlaceholderBatchFailed    = "Chat disabled (analysis failed)"
	PlaceholderUploadFailed   = "Upload failed. Retry or reload."
	PlaceholderNoBatchForChat = "Analyze a batch before asking questions."
)

type ChannelState int

const (
	ChannelConnecting ChannelState = iota
	ChannelOpen
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelConnecting:
		return "connecting"
	case ChannelOpen:
		return "open"
	default:
		return "closed"
	}
}
