package engine

import "time"

// Stage describes a high-level engine phase.
type Stage string

const (
	// StageAssemble is script assembly and line-map construction.
	StageAssemble Stage = "assemble"
	// StageDecide is the fingerprint comparison and rerun decision.
	StageDecide Stage = "decide"
	// StageExecute is subprocess execution.
	StageExecute Stage = "execute"
	// StageSync is stderr parsing and line synchronization.
	StageSync Stage = "sync"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the session is waiting for a worker.
	StatusQueued Status = "queued"
	// StatusWorking indicates the session is currently executing.
	StatusWorking Status = "working"
	// StatusDone indicates the session finished cleanly.
	StatusDone Status = "done"
	// StatusError indicates the session recorded errors.
	StatusError Status = "error"
	// StatusCached indicates the session was served from cache.
	StatusCached Status = "cached"
)

// Event reports progress for a session (or for the overall run when Session
// is empty).
type Event struct {
	Session string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

func emit(sink ProgressSink, evt Event) {
	if sink != nil {
		sink.OnEvent(evt)
	}
}
