// internal/timeline/timeline_test.go
package timeline

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/llehouerou/plexcast/internal/config"
	"github.com/llehouerou/plexcast/internal/player"
)

func testConfig(t *testing.T, content string) *config.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if content != "" {
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("could not write config: %v", err)
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	return cfg
}

func testManager(t *testing.T) (*Manager, *player.Controller, *player.MockEngine) {
	t.Helper()
	engine := player.NewMockEngine()
	controller := player.New(engine)
	return NewManager(controller, testConfig(t, "")), controller, engine
}

func playingVideo() *player.MockVideo {
	return &player.MockVideo{
		URL:          "http://server/part",
		DurationSecs: 120,
		Attrs: map[string]string{
			"ratingKey": "42",
			"key":       "/library/metadata/42",
			"guid":      "plex://movie/42",
		},
	}
}

func timelineAttrs(t *testing.T, data []byte) map[string]string {
	t.Helper()
	attrs := map[string]string{}
	doc := string(data)
	start := strings.Index(doc, "<Timeline")
	if start < 0 {
		t.Fatalf("no Timeline element in %s", doc)
	}
	end := strings.Index(doc[start:], ">")
	for _, field := range strings.Fields(doc[start+len("<Timeline") : start+end]) {
		parts := strings.SplitN(strings.TrimSuffix(field, "/"), "=", 2)
		if len(parts) == 2 {
			attrs[parts[0]] = strings.Trim(parts[1], `"`)
		}
	}
	return attrs
}

func TestTimelineIdle(t *testing.T) {
	m, _, _ := testManager(t)

	data, err := m.CurrentTimelineXML(&Subscriber{UUID: "sub", CommandID: 7})
	if err != nil {
		t.Fatalf("CurrentTimelineXML failed: %v", err)
	}

	doc := string(data)
	if !strings.Contains(doc, `commandID="7"`) {
		t.Errorf("expected commandID attribute, got %s", doc)
	}

	attrs := timelineAttrs(t, data)
	if attrs["state"] != "stopped" {
		t.Errorf("expected stopped state, got %q", attrs["state"])
	}
	if attrs["time"] != "0" {
		t.Errorf("expected zero time, got %q", attrs["time"])
	}
	if attrs["location"] != "" {
		t.Errorf("expected empty location while idle, got %q", attrs["location"])
	}
}

func TestTimelinePlaying(t *testing.T) {
	m, controller, engine := testManager(t)
	engine.SetDuration(120)

	if err := controller.Play(playingVideo(), 0); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	engine.SetCurrentPosition(33)

	data, err := m.CurrentTimelineXML(&Subscriber{UUID: "sub", CommandID: 1})
	if err != nil {
		t.Fatalf("CurrentTimelineXML failed: %v", err)
	}

	attrs := timelineAttrs(t, data)
	if attrs["state"] != "playing" {
		t.Errorf("expected playing state, got %q", attrs["state"])
	}
	if attrs["time"] != "33000" {
		t.Errorf("expected time 33000, got %q", attrs["time"])
	}
	if attrs["ratingKey"] != "42" {
		t.Errorf("expected ratingKey 42, got %q", attrs["ratingKey"])
	}
	if attrs["duration"] != "120000" {
		t.Errorf("expected duration 120000, got %q", attrs["duration"])
	}
	if attrs["location"] != "fullScreenVideo" {
		t.Errorf("expected fullScreenVideo location, got %q", attrs["location"])
	}
	if attrs["autoPlay"] != "1" {
		t.Errorf("expected autoPlay 1, got %q", attrs["autoPlay"])
	}

	controllable := attrs["controllable"]
	if !strings.Contains(controllable, "seekTo") {
		t.Errorf("expected seekTo to be controllable, got %q", controllable)
	}
	if strings.Contains(controllable, "skipNext") {
		t.Errorf("did not expect skipNext without a queue, got %q", controllable)
	}
	if strings.Contains(controllable, "volume") {
		t.Errorf("did not expect volume control on hdmi output, got %q", controllable)
	}
}

func TestTimelineVolumeOnAnalogOutput(t *testing.T) {
	engine := player.NewMockEngine()
	engine.SetDuration(60)
	controller := player.New(engine)
	cfg := testConfig(t, `audio_output = "analog"`)
	m := NewManager(controller, cfg)

	if err := controller.Play(playingVideo(), 0); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	data, err := m.CurrentTimelineXML(nil)
	if err != nil {
		t.Fatalf("CurrentTimelineXML failed: %v", err)
	}

	attrs := timelineAttrs(t, data)
	if attrs["volume"] != "100" {
		t.Errorf("expected volume 100, got %q", attrs["volume"])
	}
	if !strings.Contains(attrs["controllable"], "volume") {
		t.Errorf("expected volume to be controllable, got %q", attrs["controllable"])
	}
}

func TestTimelineUnknownDurationDisablesSeeking(t *testing.T) {
	m, controller, engine := testManager(t)
	engine.SetDuration(0)

	video := playingVideo()
	video.DurationSecs = 0
	if err := controller.Play(video, 0); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	data, err := m.CurrentTimelineXML(nil)
	if err != nil {
		t.Fatalf("CurrentTimelineXML failed: %v", err)
	}

	attrs := timelineAttrs(t, data)
	if _, ok := attrs["duration"]; ok {
		t.Errorf("did not expect duration attribute, got %q", attrs["duration"])
	}
	if strings.Contains(attrs["controllable"], "seekTo") {
		t.Errorf("did not expect seekTo without a duration, got %q", attrs["controllable"])
	}
}

func TestSubscriberPush(t *testing.T) {
	received := make(chan *http.Request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	m, _, _ := testManager(t)
	m.Subscribe(&Subscriber{
		UUID:      "remote-1",
		CommandID: 3,
		Host:      u.Hostname(),
		Port:      port,
		Protocol:  "http",
		Name:      "remote",
	})

	select {
	case r := <-received:
		if r.URL.Path != "/:/timeline" {
			t.Errorf("expected push to /:/timeline, got %s", r.URL.Path)
		}
		if r.Header.Get("X-Plex-Client-Identifier") == "" {
			t.Error("expected X-Plex-Client-Identifier header on push")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber never received a timeline push")
	}
}

func TestPollOnlySubscriberNotPushed(t *testing.T) {
	m, _, _ := testManager(t)

	// No host: Subscribe must not attempt a push and must not panic.
	m.Subscribe(&Subscriber{UUID: "poller", CommandID: 1})

	if sub := m.subs.Find("poller"); sub == nil {
		t.Fatal("expected poll subscriber to be registered")
	} else if sub.URL() != "" {
		t.Errorf("expected empty push url, got %q", sub.URL())
	}
}

func TestSubscriberExpiry(t *testing.T) {
	l := newSubscriberList()
	l.Add(&Subscriber{UUID: "old", Host: "10.0.0.1", Port: 32400})
	l.subs["old"].lastSeen = time.Now().Add(-2 * subscriberTTL)
	l.Add(&Subscriber{UUID: "fresh", Host: "10.0.0.2", Port: 32400})

	subs := l.All()
	if len(subs) != 1 {
		t.Fatalf("expected 1 live subscriber, got %d", len(subs))
	}
	if subs[0].UUID != "fresh" {
		t.Errorf("expected fresh subscriber to survive, got %s", subs[0].UUID)
	}
	if l.Find("old") != nil {
		t.Error("expected expired subscriber to be removed")
	}
}

func TestUpdateCommandID(t *testing.T) {
	m, _, _ := testManager(t)
	m.subs.Add(&Subscriber{UUID: "remote-1", CommandID: 1})

	m.UpdateCommandID("remote-1", 9)
	if got := m.subs.Find("remote-1").CommandID; got != 9 {
		t.Errorf("expected commandID 9, got %d", got)
	}

	// Unknown remotes are ignored.
	m.UpdateCommandID("remote-2", 5)
}

func TestCommandIDUpdateConcurrentWithPush(t *testing.T) {
	m, _, _ := testManager(t)
	m.subs.Add(&Subscriber{UUID: "remote-1", CommandID: 1})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			m.UpdateCommandID("remote-1", i)
		}
	}()
	for i := 0; i < 200; i++ {
		for _, sub := range m.subs.All() {
			if _, err := m.CurrentTimelineXML(sub); err != nil {
				t.Fatalf("CurrentTimelineXML failed: %v", err)
			}
		}
	}
	<-done

	if got := m.subs.Find("remote-1").CommandID; got != 199 {
		t.Errorf("expected commandID 199, got %d", got)
	}
}

func TestSubscriberSnapshotsAreCopies(t *testing.T) {
	l := newSubscriberList()
	l.Add(&Subscriber{UUID: "remote-1", CommandID: 1})

	l.Find("remote-1").CommandID = 50
	l.All()[0].CommandID = 60

	if got := l.Find("remote-1").CommandID; got != 1 {
		t.Errorf("expected stored commandID 1, got %d", got)
	}
}

func TestRunDrivesControllerUpdate(t *testing.T) {
	m, controller, engine := testManager(t)
	engine.SetDuration(100)

	if err := controller.Play(playingVideo(), 0); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	fired := make(chan struct{})
	controller.EnqueueTask(func() { close(fired) })

	go m.Run()
	defer m.Stop()

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("update loop never drained the task queue")
	}
}
