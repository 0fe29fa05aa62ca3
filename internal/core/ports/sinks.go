package ports

import "github.com/kirillkom/cvclient/internal/core/domain"

type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelLoading Level = "loading"
)

type StatusLine struct {
	Level    Level
	Filename string
	Text     string
	// Detail carries secondary text such as extracted step data.
	Detail string
	Quota  bool
}

// StatusSink renders the progress log.
type StatusSink interface {
	ResetStatus()
	Status(line StatusLine)
}

type ChatRole string

const (
	RoleUser      ChatRole = "user"
	RoleAssistant ChatRole = "assistant"
	RoleSystem    ChatRole = "system"
)

type ChatLine struct {
	Role  ChatRole
	Text  string
	Level Level
	// Pending lines are placeholders; the next non-pending line replaces them.
	Pending bool
}

// ChatSink renders the conversation panel.
type ChatSink interface {
	Chat(line ChatLine)
}

// ResultSink receives per-file results of the current batch.
type ResultSink interface {
	BatchStarted(batchID domain.ID)
	Result(result domain.FileResult)
	BatchFinished(session domain.BatchSession)
}

// ControlSink is notified after every session transition.
type ControlSink interface {
	Controls(controls domain.Controls, session domain.BatchSession)
}

// Sinks groups the presentation collaborators the session core talks to.
type Sinks struct {
	Status   StatusSink
	Chat     ChatSink
	Results  ResultSink
	Controls ControlSink
}
