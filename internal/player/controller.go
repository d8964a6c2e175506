// internal/player/controller.go
package player

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// scrobbleInterval caps how often progress is reported to the server.
	scrobbleInterval = 5 * time.Second
	// completeThreshold marks an item watched once this fraction of it
	// has played.
	completeThreshold = 0.95
	// reportFloorSeconds is the position below which no progress report
	// is sent (five minutes).
	reportFloorSeconds = 300.0
	// durationWait bounds the wait for duration metadata during Play.
	// The engine reports expiry as an error rather than blocking forever.
	durationWait = 10 * time.Second
)

// Playback states as reported by State.
const (
	StateStopped = "stopped"
	StatePaused  = "paused"
	StatePlaying = "playing"
)

// ErrNoPlaybackURL is returned by Play when the video resolves no URL.
var ErrNoPlaybackURL = errors.New("video has no playable url")

var log = logrus.WithField("component", "player")

// Session is the controller's reference to what is currently playing.
type Session struct {
	video    Video
	played   bool
	duration float64
	position float64
}

// Video returns the session's video reference.
func (s *Session) Video() Video { return s.video }

// Controller mediates between asynchronous engine events and a single
// logical playing session. All mutation happens under one mutex; engine
// callbacks never touch state directly, they enqueue deferred tasks that
// Update drains under the lock. Public methods take the lock once and
// delegate to *Locked helpers, which assume it is held.
type Controller struct {
	mu       sync.Mutex
	engine   Engine
	tasks    taskQueue
	scrobble *Timer
	session  *Session
	autoPlay bool
	part     int
}

// New constructs a Controller bound to the given engine and registers
// the deferred-task producers for every engine event.
func New(engine Engine) *Controller {
	c := &Controller{
		engine:   engine,
		scrobble: NewTimer(),
		autoPlay: true,
		part:     1,
	}

	engine.OnEvent(EventStopRequested, c.deferred(c.stopLocked))
	engine.OnEvent(EventPrevRequested, c.deferred(func() { c.playPrevLocked() }))
	engine.OnEvent(EventNextRequested, c.deferred(func() { c.playNextLocked() }))
	engine.OnEvent(EventWatchedRequested, c.deferred(c.watchedSkipLocked))
	engine.OnEvent(EventUnwatchedRequested, c.deferred(c.unwatchedQuitLocked))
	engine.OnEvent(EventFileEnded, c.deferred(c.finishedLocked))

	return c
}

// deferred wraps a locked helper into an engine-thread-safe callback
// that only enqueues; the task itself runs from Update under the lock.
func (c *Controller) deferred(fn func()) func() {
	return func() { c.tasks.Put(fn) }
}

// EnqueueTask defers fn to the next Update pass. Callers that must not
// block on the controller lock use this instead of the direct methods.
func (c *Controller) EnqueueTask(fn func()) {
	c.tasks.Put(fn)
}

// Update drains the deferred task queue and applies the scrobble policy.
// The driving loop must call it at a cadence of at most half the
// scrobble interval. Tasks enqueued during the drain wait for the next
// call.
func (c *Controller) Update() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, task := range c.tasks.Drain() {
		c.runTask(task)
	}

	if c.session == nil || c.engine.Aborted() {
		return
	}
	if c.scrobble.Elapsed() <= scrobbleInterval || c.engine.Paused() {
		return
	}

	if !c.session.played {
		if pos, err := c.engine.Position(); err == nil {
			c.session.position = pos
			duration := c.session.duration
			if duration <= 0 {
				duration = c.session.video.Duration()
			}
			switch {
			case duration > 0 && pos/duration >= completeThreshold:
				log.Info("update: marking media watched")
				c.markPlayedLocked()
			case pos > reportFloorSeconds:
				log.Debug("update: reporting media position")
				if err := c.session.video.UpdatePosition(pos); err != nil {
					log.Warnf("update: position report failed: %v", err)
				}
			}
		}
	}
	c.scrobble.Restart()
}

// runTask executes one deferred task, isolating panics so a failing
// handler cannot abort the drain or crash the driving thread.
func (c *Controller) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("deferred task panicked: %v", r)
		}
	}()
	task()
}

// Play replaces the current session with the given video, starting at
// offset seconds. On failure no state changes and the previous session,
// if any, remains in place.
func (c *Controller) Play(video Video, offset float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.playLocked(video, offset); err != nil {
		return err
	}
	c.part = 1
	return nil
}

func (c *Controller) playLocked(video Video, offset float64) error {
	url := video.PlaybackURL()
	if url == "" {
		log.Error("play: no playback url found")
		return ErrNoPlaybackURL
	}

	if err := c.engine.Load(url); err != nil {
		return fmt.Errorf("load media: %w", err)
	}
	duration, err := c.engine.WaitForDuration(durationWait)
	if err != nil {
		return fmt.Errorf("await duration metadata: %w", err)
	}

	_ = c.engine.SetFullscreen(true)
	if offset > 0 {
		_ = c.engine.SetPosition(offset)
	}

	if idx, ok := video.AudioIndex(); ok {
		log.Debugf("play: selecting audio stream index=%d", idx)
		_ = c.engine.SetAudioStream(idx)
	}
	if idx, ok := video.SubtitleIndex(); ok {
		log.Debugf("play: selecting subtitle stream index=%d", idx)
		_ = c.engine.SetSubtitleStream(idx)
	} else {
		_ = c.engine.DisableSubtitles()
	}

	_ = c.engine.SetPaused(false)
	c.session = &Session{video: video, duration: duration}
	c.scrobble.Restart()
	return nil
}

// Stop clears the session and halts the engine. With no active session,
// or with the engine already in a terminal state, it is a no-op; the
// session is re-checked after the lock is acquired so a Stop racing an
// in-flight Play observes the state that call left behind.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.session == nil || c.engine.Aborted() {
		return
	}

	log.Debugf("stopping playback of %s", c.session.video.Attr("title", "media"))

	c.session = nil
	_ = c.engine.Stop()
	_ = c.engine.SetPaused(false)
}

// TogglePause flips the pause flag unless the engine is terminal.
func (c *Controller) TogglePause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.engine.Aborted() {
		_ = c.engine.SetPaused(!c.engine.Paused())
	}
}

// Seek jumps to an absolute position in seconds.
func (c *Controller) Seek(seconds float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.engine.Aborted() {
		_ = c.engine.SetPosition(seconds)
	}
}

// SetVolume sets the engine volume, clamped to 0-100.
func (c *Controller) SetVolume(pct int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine.Aborted() {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	_ = c.engine.SetVolume(pct)
}

// Volume returns the engine volume as a 0-100 integer.
func (c *Controller) Volume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	pct, err := c.engine.Volume()
	if err != nil {
		return 0
	}
	return pct
}

// VolumeRatio returns the volume as a 0-1 ratio.
func (c *Controller) VolumeRatio() float64 {
	return float64(c.Volume()) / 100
}

// State reports stopped, paused or playing, in that priority order.
func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) stateLocked() string {
	if c.session == nil || c.engine.Aborted() {
		return StateStopped
	}
	if c.engine.Paused() {
		return StatePaused
	}
	return StatePlaying
}

// IsPaused reports whether playback is live but paused.
func (c *Controller) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.engine.Aborted() {
		return false
	}
	return c.engine.Paused()
}

// finishedLocked handles end of stream. It only ever runs as a deferred
// task. The finished item is marked watched; a multi-part item advances
// to its next part, otherwise auto-play moves on to the parent's next
// item. With neither, the session stays in place and State turns
// stopped through the engine's terminal flag.
func (c *Controller) finishedLocked() {
	if c.session == nil {
		return
	}

	video := c.session.video
	c.markPlayedLocked()

	if video.IsMultipart() {
		log.Debug("finished: media is multi-part, checking for next part")
		next := c.part + 1
		if video.SelectPart(next) {
			c.part = next
			log.Debug("finished: starting next part")
			if err := c.playLocked(video, 0); err != nil {
				log.Errorf("finished: next part failed: %v", err)
			}
			return
		}
	} else if parent := video.Parent(); parent != nil && parent.HasNext() && c.autoPlay {
		log.Debug("finished: starting next item")
		c.playItemLocked(parent.Next())
		return
	}

	log.Debug("finished: reached end")
}

// markPlayedLocked marks the session's item watched on the server, at
// most once per session.
func (c *Controller) markPlayedLocked() {
	if c.session == nil || c.session.played {
		return
	}
	if err := c.session.video.SetPlayed(); err != nil {
		log.Warnf("mark played failed: %v", err)
		return
	}
	c.session.played = true
}

// WatchedSkip marks the current item watched and moves to the next one.
func (c *Controller) WatchedSkip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watchedSkipLocked()
}

func (c *Controller) watchedSkipLocked() {
	if c.session == nil {
		return
	}
	c.markPlayedLocked()
	c.playNextLocked()
}

// UnwatchedQuit clears the watched flag on the current item and stops.
func (c *Controller) UnwatchedQuit() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.unwatchedQuitLocked()
}

func (c *Controller) unwatchedQuitLocked() {
	if c.session == nil {
		return
	}
	if err := c.session.video.SetUnplayed(); err != nil {
		log.Warnf("mark unplayed failed: %v", err)
	}
	c.stopLocked()
}

// PlayNext plays the first sub-video of the parent's next sibling,
// reporting whether a transition happened.
func (c *Controller) PlayNext() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playNextLocked()
}

func (c *Controller) playNextLocked() bool {
	if c.session == nil {
		return false
	}
	parent := c.session.video.Parent()
	if parent == nil || !parent.HasNext() {
		return false
	}
	return c.playItemLocked(parent.Next())
}

// PlayPrev plays the first sub-video of the parent's previous sibling,
// reporting whether a transition happened.
func (c *Controller) PlayPrev() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.playPrevLocked()
}

func (c *Controller) playPrevLocked() bool {
	if c.session == nil {
		return false
	}
	parent := c.session.video.Parent()
	if parent == nil || !parent.HasPrev() {
		return false
	}
	return c.playItemLocked(parent.Prev())
}

// SkipTo resolves a sibling by server key and plays its first
// sub-video. An unknown key reports failure with no state change.
func (c *Controller) SkipTo(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return false
	}
	parent := c.session.video.Parent()
	if parent == nil {
		return false
	}
	item := parent.ByKey(key)
	if item == nil {
		return false
	}
	return c.playItemLocked(item)
}

// playItemLocked starts a fresh top-level session on the item's first
// sub-video, resetting the part index.
func (c *Controller) playItemLocked(item Item) bool {
	if item == nil {
		return false
	}
	video := item.Video(0)
	if video == nil {
		return false
	}
	if err := c.playLocked(video, 0); err != nil {
		log.Errorf("play item failed: %v", err)
		return false
	}
	c.part = 1
	return true
}

// SetStreams re-applies stream selection mid-playback, mapping
// server-side stream ids through the session's index tables. A nil id
// leaves the current selection untouched; an explicit empty subtitle id
// disables subtitles.
func (c *Controller) SetStreams(audioID, subtitleID *string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return
	}
	video := c.session.video

	if audioID != nil && *audioID != "" {
		if idx, ok := video.AudioStreamIndex(*audioID); ok {
			log.Debugf("set streams: audio id=%s index=%d", *audioID, idx)
			_ = c.engine.SetAudioStream(idx)
		} else {
			log.Warnf("set streams: unknown audio stream id %q", *audioID)
		}
	}

	if subtitleID != nil {
		if *subtitleID == "" {
			log.Debug("set streams: subtitles off")
			_ = c.engine.DisableSubtitles()
		} else if idx, ok := video.SubtitleStreamIndex(*subtitleID); ok {
			log.Debugf("set streams: subtitle id=%s index=%d", *subtitleID, idx)
			_ = c.engine.SetSubtitleStream(idx)
		} else {
			log.Warnf("set streams: unknown subtitle stream id %q", *subtitleID)
		}
	}
}

// AutoPlay reports whether auto-advance to the next item is enabled.
func (c *Controller) AutoPlay() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoPlay
}

// SetAutoPlay enables or disables auto-advance.
func (c *Controller) SetAutoPlay(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoPlay = on
}

// VideoAttr reads a named attribute from the current video's metadata,
// returning def when no session is active or the attribute is unset.
func (c *Controller) VideoAttr(name, def string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return def
	}
	return c.session.video.Attr(name, def)
}

// Status is a consistent snapshot of playback state for reporting
// surfaces (timeline, MPRIS).
type Status struct {
	State    string
	Position float64
	Duration float64
	AutoPlay bool
	Volume   int
	HasNext  bool
	HasPrev  bool
	// Video is the active session's item, nil when nothing is live.
	Video Video
}

// Status captures the controller state under the lock.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:    c.stateLocked(),
		AutoPlay: c.autoPlay,
	}
	if pct, err := c.engine.Volume(); err == nil {
		st.Volume = pct
	}
	if c.session == nil || c.engine.Aborted() {
		return st
	}

	st.Video = c.session.video
	st.Duration = c.session.duration
	if pos, err := c.engine.Position(); err == nil {
		c.session.position = pos
	}
	st.Position = c.session.position
	if parent := c.session.video.Parent(); parent != nil {
		st.HasNext = parent.HasNext()
		st.HasPrev = parent.HasPrev()
	}
	return st
}
