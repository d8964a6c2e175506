// internal/player/mock.go
package player

import (
	"errors"
	"sync"
	"time"
)

// MockEngine is a test double for the playback engine.
type MockEngine struct {
	mu        sync.Mutex
	aborted   bool
	paused    bool
	volume    int
	position  float64
	duration  float64
	loadErr   error
	waitErr   error
	loads     []string
	seeks     []float64
	audioSel  []int
	subSel    []int
	subsOff   int
	stops     int
	handlers  map[EngineEvent][]func()
	fullOn    bool
}

// NewMockEngine creates a mock engine in the terminal (nothing loaded)
// state.
func NewMockEngine() *MockEngine {
	return &MockEngine{
		aborted:  true,
		volume:   100,
		handlers: make(map[EngineEvent][]func()),
	}
}

func (m *MockEngine) Load(url string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads = append(m.loads, url)
	if m.loadErr != nil {
		return m.loadErr
	}
	m.aborted = false
	m.position = 0
	return nil
}

func (m *MockEngine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	m.aborted = true
	return nil
}

func (m *MockEngine) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *MockEngine) SetPaused(paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.paused = paused
	return nil
}

func (m *MockEngine) Volume() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.volume, nil
}

func (m *MockEngine) SetVolume(pct int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volume = pct
	return nil
}

func (m *MockEngine) Position() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.position, nil
}

func (m *MockEngine) SetPosition(seconds float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.position = seconds
	m.seeks = append(m.seeks, seconds)
	return nil
}

func (m *MockEngine) Duration() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duration, nil
}

func (m *MockEngine) WaitForDuration(_ time.Duration) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.waitErr != nil {
		return 0, m.waitErr
	}
	return m.duration, nil
}

func (m *MockEngine) SetFullscreen(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fullOn = on
	return nil
}

func (m *MockEngine) SetAudioStream(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audioSel = append(m.audioSel, index)
	return nil
}

func (m *MockEngine) SetSubtitleStream(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subSel = append(m.subSel, index)
	return nil
}

func (m *MockEngine) DisableSubtitles() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subsOff++
	return nil
}

func (m *MockEngine) Aborted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.aborted
}

func (m *MockEngine) OnEvent(kind EngineEvent, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[kind] = append(m.handlers[kind], fn)
}

// Test helpers

// Fire invokes every handler registered for the event kind, the way the
// real engine does from its event thread.
func (m *MockEngine) Fire(kind EngineEvent) {
	m.mu.Lock()
	handlers := append([]func(){}, m.handlers[kind]...)
	m.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

func (m *MockEngine) SetDuration(seconds float64)  { m.mu.Lock(); m.duration = seconds; m.mu.Unlock() }
func (m *MockEngine) SetCurrentPosition(s float64) { m.mu.Lock(); m.position = s; m.mu.Unlock() }
func (m *MockEngine) SetAborted(aborted bool)      { m.mu.Lock(); m.aborted = aborted; m.mu.Unlock() }
func (m *MockEngine) SetLoadError(err error)       { m.mu.Lock(); m.loadErr = err; m.mu.Unlock() }
func (m *MockEngine) SetWaitError(err error)       { m.mu.Lock(); m.waitErr = err; m.mu.Unlock() }

func (m *MockEngine) Loads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.loads...)
}

func (m *MockEngine) Seeks() []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]float64{}, m.seeks...)
}

func (m *MockEngine) AudioSelections() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int{}, m.audioSel...)
}

func (m *MockEngine) SubtitleSelections() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int{}, m.subSel...)
}

func (m *MockEngine) SubtitlesDisabled() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subsOff
}

func (m *MockEngine) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

// Verify MockEngine implements Engine at compile time.
var _ Engine = (*MockEngine)(nil)

// ErrMockTimeout stands in for a duration metadata timeout in tests.
var ErrMockTimeout = errors.New("mock: duration wait timed out")

// MockVideo is a test double for a playable item.
type MockVideo struct {
	URL           string
	DurationSecs  float64
	Audio         *int
	Subtitle      *int
	AudioMap      map[string]int
	SubtitleMap   map[string]int
	Multipart     bool
	Parts         int
	CurrentPart   int
	Attrs         map[string]string
	Container     Container
	PlayedCalls   int
	UnplayedCalls int
	Positions     []float64
	PlayedErr     error
}

func (v *MockVideo) PlaybackURL() string { return v.URL }

func (v *MockVideo) Duration() float64 { return v.DurationSecs }

func (v *MockVideo) AudioIndex() (int, bool) {
	if v.Audio == nil {
		return 0, false
	}
	return *v.Audio, true
}

func (v *MockVideo) SubtitleIndex() (int, bool) {
	if v.Subtitle == nil {
		return 0, false
	}
	return *v.Subtitle, true
}

func (v *MockVideo) AudioStreamIndex(id string) (int, bool) {
	idx, ok := v.AudioMap[id]
	return idx, ok
}

func (v *MockVideo) SubtitleStreamIndex(id string) (int, bool) {
	idx, ok := v.SubtitleMap[id]
	return idx, ok
}

func (v *MockVideo) SetPlayed() error {
	if v.PlayedErr != nil {
		return v.PlayedErr
	}
	v.PlayedCalls++
	return nil
}

func (v *MockVideo) SetUnplayed() error {
	v.UnplayedCalls++
	return nil
}

func (v *MockVideo) UpdatePosition(seconds float64) error {
	v.Positions = append(v.Positions, seconds)
	return nil
}

func (v *MockVideo) IsMultipart() bool { return v.Multipart }

func (v *MockVideo) SelectPart(part int) bool {
	if part < 1 || part > v.Parts {
		return false
	}
	v.CurrentPart = part
	return true
}

func (v *MockVideo) Attr(name, def string) string {
	if val, ok := v.Attrs[name]; ok {
		return val
	}
	return def
}

func (v *MockVideo) Parent() Container { return v.Container }

// Verify MockVideo implements Video at compile time.
var _ Video = (*MockVideo)(nil)

// MockItem is a container entry holding sub-videos.
type MockItem struct {
	Videos []Video
}

func (i *MockItem) Video(index int) Video {
	if index < 0 || index >= len(i.Videos) {
		return nil
	}
	return i.Videos[index]
}

// MockContainer is a test double for a parent container.
type MockContainer struct {
	NextItem Item
	PrevItem Item
	ByKeyMap map[string]Item
}

func (c *MockContainer) HasNext() bool { return c.NextItem != nil }
func (c *MockContainer) HasPrev() bool { return c.PrevItem != nil }
func (c *MockContainer) Next() Item    { return c.NextItem }
func (c *MockContainer) Prev() Item    { return c.PrevItem }

func (c *MockContainer) ByKey(key string) Item {
	if c.ByKeyMap == nil {
		return nil
	}
	return c.ByKeyMap[key]
}

// Verify container doubles implement their contracts at compile time.
var (
	_ Item      = (*MockItem)(nil)
	_ Container = (*MockContainer)(nil)
)
