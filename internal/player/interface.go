// internal/player/interface.go
package player

import "time"

// EngineEvent identifies an asynchronous event the playback engine can
// report. Handlers registered for these events run on the engine's own
// thread and must not touch controller state directly; the controller
// registers handlers that only enqueue deferred tasks.
type EngineEvent int

const (
	// EventStopRequested fires when the user asks the engine to quit
	// playback (the "q" binding).
	EventStopRequested EngineEvent = iota
	// EventPrevRequested fires on the previous-item binding ("<").
	EventPrevRequested
	// EventNextRequested fires on the next-item binding (">").
	EventNextRequested
	// EventWatchedRequested fires on the mark-watched-and-skip binding ("w").
	EventWatchedRequested
	// EventUnwatchedRequested fires on the mark-unwatched-and-quit binding ("u").
	EventUnwatchedRequested
	// EventFileEnded fires when the engine reaches end of stream.
	EventFileEnded
)

// Engine is the playback engine contract. Implementations perform the
// actual decode/render (internal/mpv wraps libmpv) and report events
// asynchronously from their own threads.
type Engine interface {
	// Load starts playback of the given URL.
	Load(url string) error
	// Stop halts playback and unloads the current file.
	Stop() error
	// Paused reports whether playback is paused.
	Paused() bool
	// SetPaused pauses or resumes playback.
	SetPaused(paused bool) error
	// Volume returns the current volume as a 0-100 integer.
	Volume() (int, error)
	// SetVolume sets the volume as a 0-100 integer.
	SetVolume(pct int) error
	// Position returns the playback position in seconds.
	Position() (float64, error)
	// SetPosition seeks to an absolute position in seconds.
	SetPosition(seconds float64) error
	// Duration returns the duration of the loaded file in seconds.
	Duration() (float64, error)
	// WaitForDuration blocks until duration metadata is available or the
	// timeout expires, returning the duration in seconds.
	WaitForDuration(timeout time.Duration) (float64, error)
	// SetFullscreen toggles full-window display.
	SetFullscreen(on bool) error
	// SetAudioStream selects an audio stream by engine index.
	SetAudioStream(index int) error
	// SetSubtitleStream selects a subtitle stream by engine index.
	SetSubtitleStream(index int) error
	// DisableSubtitles turns subtitle rendering off.
	DisableSubtitles() error
	// Aborted reports whether the engine is in a terminal state with no
	// file loaded. Commands issued in this state are no-ops.
	Aborted() bool
	// OnEvent registers a handler for an engine event kind. The handler
	// is invoked from the engine's event thread.
	OnEvent(kind EngineEvent, fn func())
}

// Video is a playable item resolved through the media server. It knows
// how to report progress back to the server and how to step through its
// own parts when the item is split into several files.
type Video interface {
	// PlaybackURL resolves the direct-play URL for the current part.
	// An empty string means no URL is available.
	PlaybackURL() string
	// Duration returns the item duration in seconds, 0 if unknown.
	Duration() float64
	// AudioIndex returns the preferred audio stream engine index, if the
	// item declares one.
	AudioIndex() (int, bool)
	// SubtitleIndex returns the preferred subtitle stream engine index,
	// if the item declares one.
	SubtitleIndex() (int, bool)
	// AudioStreamIndex maps a server-side audio stream id to an engine index.
	AudioStreamIndex(id string) (int, bool)
	// SubtitleStreamIndex maps a server-side subtitle stream id to an
	// engine index.
	SubtitleStreamIndex(id string) (int, bool)
	// SetPlayed marks the item watched on the server.
	SetPlayed() error
	// SetUnplayed clears the watched flag on the server.
	SetUnplayed() error
	// UpdatePosition reports the playback position to the server.
	UpdatePosition(seconds float64) error
	// IsMultipart reports whether the item is split into several parts.
	IsMultipart() bool
	// SelectPart switches to the given 1-based part, reporting whether
	// the part exists.
	SelectPart(part int) bool
	// Attr reads a named attribute from the item's metadata, returning
	// def when absent.
	Attr(name, def string) string
	// Parent returns the container the item belongs to.
	Parent() Container
}

// Container is the parent of a Video: a play queue or sibling listing
// that supports sequential navigation.
type Container interface {
	// HasNext reports whether a sibling follows the current item.
	HasNext() bool
	// HasPrev reports whether a sibling precedes the current item.
	HasPrev() bool
	// Next returns the following sibling, nil if none.
	Next() Item
	// Prev returns the preceding sibling, nil if none.
	Prev() Item
	// ByKey resolves a sibling by its server key, nil if unknown.
	ByKey(key string) Item
}

// Item is one entry of a Container.
type Item interface {
	// Video returns the item's playable sub-video at the given index,
	// nil if out of range.
	Video(index int) Video
}
