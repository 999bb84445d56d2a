package driver

import "time"

// Stage names one step of the patch pipeline.
type Stage string

const (
	StageLookup    Stage = "lookup"
	StageRead      Stage = "read"
	StageCache     Stage = "cache"
	StageParse     Stage = "parse"
	StageRewrite   Stage = "rewrite"
	StageSerialize Stage = "serialize"
	StageWrite     Stage = "write"
)

// Status is the state of an entry within a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Event reports progress for one dex entry, or for the whole run when
// Entry is empty. An event with an empty Stage closes the entry; Applied
// then counts the target names it matched.
type Event struct {
	Entry   string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
	Applied int
}

// ProgressSink consumes progress events. Jar mode calls it from several
// goroutines.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(ev Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- ev
}

// SinkFunc adapts a function to ProgressSink.
type SinkFunc func(Event)

func (f SinkFunc) OnEvent(ev Event) { f(ev) }

func emit(s ProgressSink, ev Event) {
	if s != nil {
		s.OnEvent(ev)
	}
}
