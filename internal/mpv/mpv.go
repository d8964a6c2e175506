// internal/mpv/mpv.go
package mpv

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	mpv "github.com/gen2brain/go-mpv"
	"github.com/sirupsen/logrus"

	"github.com/llehouerou/plexcast/internal/player"
)

var log = logrus.WithField("component", "mpv")

// ErrDurationUnavailable is returned when duration metadata does not
// arrive before the wait deadline.
var ErrDurationUnavailable = errors.New("mpv: duration metadata unavailable")

// keyMessage is the script-message name our keybinds route through so
// key presses surface as client-message events on the event loop.
const keyMessage = "plexcast-key"

// engineKeys maps engine event kinds to the mpv key they bind.
var engineKeys = map[player.EngineEvent]string{
	player.EventStopRequested:      "q",
	player.EventPrevRequested:      "<",
	player.EventNextRequested:      ">",
	player.EventWatchedRequested:   "w",
	player.EventUnwatchedRequested: "u",
}

// Engine drives a libmpv instance and dispatches its asynchronous
// events to registered handlers. It satisfies player.Engine.
type Engine struct {
	mu          sync.Mutex
	client      *mpv.Mpv
	handlers    map[player.EngineEvent][]func()
	closeOnce   sync.Once
	closed      chan struct{}
	eventLoopWG sync.WaitGroup
}

// New creates and initializes a libmpv instance with an on-screen
// controller and default input bindings, and starts its event loop.
func New() (*Engine, error) {
	client := mpv.New()
	if client == nil {
		return nil, errors.New("create libmpv instance")
	}

	_ = client.SetOptionString("input-default-bindings", "yes")
	_ = client.SetOptionString("input-vo-keyboard", "yes")
	_ = client.SetOptionString("osc", "yes")
	_ = client.SetOptionString("keep-open", "no")

	if err := client.Initialize(); err != nil {
		client.TerminateDestroy()
		return nil, fmt.Errorf("initialize libmpv: %w", err)
	}

	e := &Engine{
		client:   client,
		handlers: make(map[player.EngineEvent][]func()),
		closed:   make(chan struct{}),
	}

	_ = client.RequestEvent(mpv.EventEnd, true)
	_ = client.RequestEvent(mpv.EventClientMessage, true)

	for _, key := range engineKeys {
		cmd := fmt.Sprintf("script-message %s %s", keyMessage, key)
		if err := client.Command([]string{"keybind", key, cmd}); err != nil {
			log.Warnf("bind key %q: %v", key, err)
		}
	}

	e.eventLoopWG.Add(1)
	go e.eventLoop()

	return e, nil
}

// Load starts playback of the given URL, replacing any current file.
func (e *Engine) Load(url string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.client.Command([]string{"loadfile", url, "replace"}); err != nil {
		return fmt.Errorf("load %q: %w", url, err)
	}
	return nil
}

// Stop halts playback and unloads the current file.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.client.Command([]string{"stop"}); err != nil {
		return fmt.Errorf("stop playback: %w", err)
	}
	return nil
}

// Paused reports whether playback is paused.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	value, err := e.client.GetProperty("pause", mpv.FormatFlag)
	if err != nil {
		return false
	}
	paused, _ := value.(bool)
	return paused
}

// SetPaused pauses or resumes playback.
func (e *Engine) SetPaused(paused bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	value := "no"
	if paused {
		value = "yes"
	}
	if err := e.client.SetPropertyString("pause", value); err != nil {
		return fmt.Errorf("set pause: %w", err)
	}
	return nil
}

// Volume returns the current volume as a 0-100 integer.
func (e *Engine) Volume() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	value, err := e.client.GetProperty("volume", mpv.FormatDouble)
	if err != nil {
		return 0, fmt.Errorf("read volume: %w", err)
	}
	vol, ok := value.(float64)
	if !ok {
		return 0, fmt.Errorf("unexpected volume value %v", value)
	}
	return int(math.Round(vol)), nil
}

// SetVolume sets the volume as a 0-100 integer.
func (e *Engine) SetVolume(pct int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.client.SetProperty("volume", mpv.FormatDouble, float64(pct)); err != nil {
		return fmt.Errorf("set volume: %w", err)
	}
	return nil
}

// Position returns the playback position in seconds.
func (e *Engine) Position() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readSecondsLocked("time-pos")
}

// SetPosition seeks to an absolute position in seconds.
func (e *Engine) SetPosition(seconds float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.client.SetProperty("time-pos", mpv.FormatDouble, seconds); err != nil {
		return fmt.Errorf("seek: %w", err)
	}
	return nil
}

// Duration returns the duration of the loaded file in seconds.
func (e *Engine) Duration() (float64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.readSecondsLocked("duration")
}

// WaitForDuration polls for duration metadata until it is available or
// the timeout expires. mpv publishes the property once demuxing has
// progressed far enough, which for network streams can take a while.
func (e *Engine) WaitForDuration(timeout time.Duration) (float64, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline.C:
			return 0, ErrDurationUnavailable
		case <-e.closed:
			return 0, ErrDurationUnavailable
		case <-ticker.C:
			if duration, err := e.Duration(); err == nil && duration > 0 {
				return duration, nil
			}
		}
	}
}

// SetFullscreen toggles full-window display.
func (e *Engine) SetFullscreen(on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	value := "no"
	if on {
		value = "yes"
	}
	if err := e.client.SetPropertyString("fullscreen", value); err != nil {
		return fmt.Errorf("set fullscreen: %w", err)
	}
	return nil
}

// SetAudioStream selects an audio track by mpv track id.
func (e *Engine) SetAudioStream(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.client.SetProperty("aid", mpv.FormatInt64, int64(index)); err != nil {
		return fmt.Errorf("select audio track %d: %w", index, err)
	}
	return nil
}

// SetSubtitleStream selects a subtitle track by mpv track id.
func (e *Engine) SetSubtitleStream(index int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.client.SetProperty("sid", mpv.FormatInt64, int64(index)); err != nil {
		return fmt.Errorf("select subtitle track %d: %w", index, err)
	}
	return nil
}

// DisableSubtitles turns subtitle rendering off.
func (e *Engine) DisableSubtitles() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.client.SetPropertyString("sid", "no"); err != nil {
		return fmt.Errorf("disable subtitles: %w", err)
	}
	return nil
}

// Aborted reports whether mpv is idle with nothing loaded, the terminal
// state in which playback commands are rejected.
func (e *Engine) Aborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	value, err := e.client.GetProperty("idle-active", mpv.FormatFlag)
	if err != nil {
		return true
	}
	idle, ok := value.(bool)
	return !ok || idle
}

// OnEvent registers a handler for an engine event kind. Handlers run on
// the event loop goroutine.
func (e *Engine) OnEvent(kind player.EngineEvent, fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[kind] = append(e.handlers[kind], fn)
}

// Close shuts down the event loop and destroys the libmpv instance.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		close(e.closed)
		e.client.Wakeup()
		e.eventLoopWG.Wait()
		e.client.TerminateDestroy()
	})
	return nil
}

func (e *Engine) eventLoop() {
	defer e.eventLoopWG.Done()

	for {
		select {
		case <-e.closed:
			return
		default:
		}

		event := e.client.WaitEvent(0.5)
		if event == nil {
			continue
		}

		switch event.EventID {
		case mpv.EventShutdown:
			return
		case mpv.EventEnd:
			end := event.EndFile()
			if end.Reason != mpv.EndFileEOF {
				continue
			}
			e.dispatch(player.EventFileEnded)
		case mpv.EventClientMessage:
			args := event.ClientMessage()
			if len(args) < 2 || args[0] != keyMessage {
				continue
			}
			e.dispatchKey(strings.TrimSpace(args[1]))
		}
	}
}

func (e *Engine) dispatchKey(key string) {
	for kind, bound := range engineKeys {
		if bound == key {
			e.dispatch(kind)
			return
		}
	}
	log.Debugf("unbound key message %q", key)
}

// dispatch runs every handler registered for the kind, isolating
// panics so one listener cannot take down the event loop.
func (e *Engine) dispatch(kind player.EngineEvent) {
	e.mu.Lock()
	handlers := append([]func(){}, e.handlers[kind]...)
	e.mu.Unlock()

	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("event handler panicked: %v", r)
				}
			}()
			fn()
		}()
	}
}

func (e *Engine) readSecondsLocked(property string) (float64, error) {
	value, err := e.client.GetProperty(property, mpv.FormatDouble)
	if err != nil {
		if errors.Is(err, mpv.ErrPropertyUnavailable) || errors.Is(err, mpv.ErrPropertyNotFound) {
			return 0, fmt.Errorf("%s not available: %w", property, err)
		}
		return 0, fmt.Errorf("read %s: %w", property, err)
	}
	seconds, ok := value.(float64)
	if !ok || math.IsNaN(seconds) || seconds < 0 {
		return 0, fmt.Errorf("unexpected %s value %v", property, value)
	}
	return seconds, nil
}

// Verify Engine implements the player contract at compile time.
var _ player.Engine = (*Engine)(nil)
