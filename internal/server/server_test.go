// internal/server/server_test.go
package server

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/llehouerou/plexcast/internal/config"
	"github.com/llehouerou/plexcast/internal/player"
	"github.com/llehouerou/plexcast/internal/plex"
	"github.com/llehouerou/plexcast/internal/timeline"
)

const itemXML = `<?xml version="1.0" encoding="UTF-8"?>
<MediaContainer machineIdentifier="server-abc" size="1">
  <Video ratingKey="101" key="/library/metadata/101" guid="plex://movie/101" duration="7200000">
    <Media id="201">
      <Part id="301" key="/library/parts/301/file.mkv">
        <Stream id="402" streamType="2" selected="1"/>
      </Part>
    </Media>
  </Video>
</MediaContainer>`

type fixture struct {
	server     *httptest.Server
	controller *player.Controller
	engine     *player.MockEngine
	client     *plex.Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	content := "allow_http = true\nplayer_name = \"test-player\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	engine := player.NewMockEngine()
	engine.SetDuration(7200)
	controller := player.New(engine)
	client := plex.NewClient(plex.Identity{
		ClientUUID: cfg.Get().ClientUUID,
		PlayerName: cfg.Get().PlayerName,
		AllowHTTP:  true,
	})
	tl := timeline.NewManager(controller, cfg)

	srv := New(controller, client, tl, cfg)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &fixture{server: ts, controller: controller, engine: engine, client: client}
}

func (f *fixture) get(t *testing.T, path string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, f.server.URL+path, nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp, string(body)
}

// playFixtureMedia loads an item from a fake Plex server and starts it.
func (f *fixture) playFixtureMedia(t *testing.T) {
	t.Helper()
	plexSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, itemXML)
	}))
	t.Cleanup(plexSrv.Close)

	u, _ := url.Parse(plexSrv.URL)
	query := url.Values{
		"address":  {u.Hostname()},
		"port":     {u.Port()},
		"protocol": {"http"},
		"key":      {"/library/metadata/101"},
		"token":    {"tok"},
		"offset":   {"0"},
	}
	resp, body := f.get(t, "/player/playback/playMedia?"+query.Encode(), nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("playMedia status %d", resp.StatusCode)
	}
	if !strings.Contains(body, `code="200"`) {
		t.Fatalf("playMedia response: %s", body)
	}
}

func TestResources(t *testing.T) {
	f := newFixture(t)

	resp, body := f.get(t, "/resources", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if resp.Header.Get("X-Plex-Client-Identifier") == "" {
		t.Error("expected X-Plex-Client-Identifier response header")
	}
	if !strings.Contains(body, `title="test-player"`) {
		t.Errorf("expected player title in %s", body)
	}
	if !strings.Contains(body, "playqueues") {
		t.Errorf("expected playqueues capability in %s", body)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)

	req, _ := http.NewRequest(http.MethodOptions, f.server.URL+"/player/playback/stop", nil)
	req.Header.Set("Access-Control-Request-Method", "GET")
	req.Header.Set("Access-Control-Request-Headers", "X-Plex-Client-Identifier")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("preflight failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); !strings.Contains(got, "OPTIONS") {
		t.Errorf("expected allow-methods header, got %q", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Headers"); got != "X-Plex-Client-Identifier" {
		t.Errorf("expected requested headers to be allowed, got %q", got)
	}
}

func TestPlayMediaStartsPlayback(t *testing.T) {
	f := newFixture(t)
	f.playFixtureMedia(t)

	if got := f.controller.State(); got != player.StatePlaying {
		t.Errorf("expected playing state, got %q", got)
	}
	loads := f.engine.Loads()
	if len(loads) != 1 {
		t.Fatalf("expected 1 load, got %d", len(loads))
	}
	if !strings.Contains(loads[0], "/library/parts/301/file.mkv") {
		t.Errorf("expected part url, got %q", loads[0])
	}
	if !strings.Contains(loads[0], "X-Plex-Token=tok") {
		t.Errorf("expected ephemeral token on playback url, got %q", loads[0])
	}
}

func TestStopAndPausePlay(t *testing.T) {
	f := newFixture(t)
	f.playFixtureMedia(t)

	resp, _ := f.get(t, "/player/playback/pause", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pause status %d", resp.StatusCode)
	}
	if !f.engine.Paused() {
		t.Error("expected engine paused after pause command")
	}

	f.get(t, "/player/playback/play", nil)
	if f.engine.Paused() {
		t.Error("expected engine resumed after play command")
	}

	f.get(t, "/player/playback/stop", nil)
	if got := f.controller.State(); got != player.StateStopped {
		t.Errorf("expected stopped state, got %q", got)
	}
}

func TestSeekTo(t *testing.T) {
	f := newFixture(t)
	f.playFixtureMedia(t)

	f.get(t, "/player/playback/seekTo?offset=93500", nil)

	seeks := f.engine.Seeks()
	if len(seeks) == 0 || seeks[len(seeks)-1] != 93.5 {
		t.Errorf("expected seek to 93.5s, got %v", seeks)
	}
}

func TestSetParameters(t *testing.T) {
	f := newFixture(t)
	f.playFixtureMedia(t)

	f.get(t, "/player/playback/setParameters?volume=40", nil)
	if got := f.controller.Volume(); got != 40 {
		t.Errorf("expected volume 40, got %d", got)
	}

	f.get(t, "/player/playback/setParameters?autoPlay=0", nil)
	if f.controller.AutoPlay() {
		t.Error("expected autoPlay disabled")
	}
}

func TestSetStreams(t *testing.T) {
	f := newFixture(t)
	f.playFixtureMedia(t)

	f.get(t, "/player/playback/setStreams?audioStreamID=402", nil)

	audio := f.engine.AudioSelections()
	if len(audio) == 0 || audio[len(audio)-1] != 1 {
		t.Errorf("expected audio stream 1 selected, got %v", audio)
	}
}

func TestSubscribeRequiresIdentity(t *testing.T) {
	f := newFixture(t)

	_, body := f.get(t, "/player/timeline/subscribe?port=32400&commandID=1", nil)
	if !strings.Contains(body, `code="500"`) {
		t.Errorf("expected error response without identity headers, got %s", body)
	}
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	f := newFixture(t)

	headers := map[string]string{
		"X-Plex-Client-Identifier": "remote-1",
		"X-Plex-Device-Name":       "remote",
	}
	_, body := f.get(t, "/player/timeline/subscribe?port=32400&commandID=1&protocol=http", headers)
	if !strings.Contains(body, `code="200"`) {
		t.Errorf("expected OK response, got %s", body)
	}

	resp, _ := f.get(t, "/player/timeline/unsubscribe", headers)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("unsubscribe status %d", resp.StatusCode)
	}
}

func TestPoll(t *testing.T) {
	f := newFixture(t)

	headers := map[string]string{"X-Plex-Client-Identifier": "poller-1"}
	_, body := f.get(t, "/player/timeline/poll?commandID=4", headers)

	if !strings.Contains(body, "<Timeline") {
		t.Errorf("expected timeline document, got %s", body)
	}
	if !strings.Contains(body, `commandID="4"`) {
		t.Errorf("expected commandID echo, got %s", body)
	}
}

func TestPollRequiresCommandID(t *testing.T) {
	f := newFixture(t)

	_, body := f.get(t, "/player/timeline/poll", map[string]string{
		"X-Plex-Client-Identifier": "poller-1",
	})
	if !strings.Contains(body, `code="500"`) {
		t.Errorf("expected error response, got %s", body)
	}
}

func TestRefreshPlayQueueWithoutMedia(t *testing.T) {
	f := newFixture(t)

	_, body := f.get(t, "/player/playback/refreshPlayQueue", nil)
	if !strings.Contains(body, `code="500"`) {
		t.Errorf("expected error response with nothing playing, got %s", body)
	}
}

func TestUnknownPathNotFound(t *testing.T) {
	f := newFixture(t)

	resp, _ := f.get(t, "/player/navigation/moveUp", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unhandled path, got %d", resp.StatusCode)
	}
}
