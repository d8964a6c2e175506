// internal/server/server.go
package server

import (
	"context"
	"encoding/xml"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/llehouerou/plexcast/internal/config"
	"github.com/llehouerou/plexcast/internal/player"
	"github.com/llehouerou/plexcast/internal/plex"
	"github.com/llehouerou/plexcast/internal/timeline"
)

var log = logrus.WithField("component", "server")

// Server exposes the Plex companion-remote command surface over HTTP.
// Remotes discover it via GDM or a plex.tv resource listing and drive
// playback through /player/... endpoints.
type Server struct {
	controller *player.Controller
	client     *plex.Client
	timeline   *timeline.Manager
	cfg        *config.Store
	httpServer *http.Server
}

// New builds the command server. Call Run to start serving.
func New(controller *player.Controller, client *plex.Client, tl *timeline.Manager, cfg *config.Store) *Server {
	s := &Server{
		controller: controller,
		client:     client,
		timeline:   tl,
		cfg:        cfg,
	}

	mux := http.NewServeMux()
	routes := []struct {
		path    string
		handler func(http.ResponseWriter, url.Values, *http.Request)
	}{
		{"/resources", s.handleResources},
		{"/player/playback/playMedia", s.handlePlayMedia},
		{"/player/application/playMedia", s.handlePlayMedia},
		{"/player/playback/stop", s.handleStop},
		{"/player/playback/pause", s.handlePausePlay},
		{"/player/playback/play", s.handlePausePlay},
		{"/player/playback/seekTo", s.handleSeekTo},
		{"/player/playback/skipNext", s.handleSkipNext},
		{"/player/playback/skipPrevious", s.handleSkipPrevious},
		{"/player/playback/skipTo", s.handleSkipTo},
		{"/player/playback/setParameters", s.handleSetParameters},
		{"/player/playback/setStreams", s.handleSetStreams},
		{"/player/playback/refreshPlayQueue", s.handleRefreshPlayQueue},
		{"/player/timeline/subscribe", s.handleSubscribe},
		{"/player/timeline/unsubscribe", s.handleUnsubscribe},
		{"/player/timeline/poll", s.handlePoll},
	}
	for _, route := range routes {
		mux.Handle(route.path, s.command(route.handler))
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Get().HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the command mux.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until Shutdown is called.
func (s *Server) Run() error {
	log.Infof("listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("command server: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// command wraps a handler with the envelope every Plex remote expects:
// CORS preflight support, command id bookkeeping and the identifying
// response headers.
func (s *Server) command(fn func(http.ResponseWriter, url.Values, *http.Request)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if name := r.Header.Get("X-Plex-Device-Name"); name != "" {
			log.Debugf("request from %q to %s", name, r.URL.Path)
		} else {
			log.Debugf("request to %s", r.URL.Path)
		}

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE, PUT, HEAD")
			w.Header().Set("Access-Control-Max-Age", "1209600")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
			}
			w.WriteHeader(http.StatusOK)
			return
		}

		query := r.URL.Query()
		s.updateCommandID(r, query)
		fn(w, query, r)
	})
}

func (s *Server) updateCommandID(r *http.Request, query url.Values) {
	raw := query.Get("commandID")
	if raw == "" {
		return
	}
	commandID, err := strconv.Atoi(raw)
	if err != nil {
		log.Errorf("invalid commandID %q", raw)
		return
	}
	uuid := r.Header.Get("X-Plex-Client-Identifier")
	if uuid == "" {
		return
	}
	s.timeline.UpdateCommandID(uuid, commandID)
}

type responseElement struct {
	XMLName xml.Name `xml:"Response"`
	Code    int      `xml:"code,attr"`
	Status  string   `xml:"status,attr"`
}

func (s *Server) writeXML(w http.ResponseWriter, body []byte) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "X-Plex-Client-Identifier")
	w.Header().Set("X-Plex-Client-Identifier", s.cfg.Get().ClientUUID)
	w.Header().Set("Content-Type", "text/xml")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

// writeResponse sends the standard <Response> document. The transport
// status is always 200; the code attribute carries the outcome.
func (s *Server) writeResponse(w http.ResponseWriter, code int, status string) {
	data, err := xml.Marshal(responseElement{Code: code, Status: status})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeXML(w, append([]byte(xml.Header), data...))
}

func (s *Server) ok(w http.ResponseWriter) {
	s.writeResponse(w, 200, "OK")
}

type playerElement struct {
	XMLName              xml.Name `xml:"Player"`
	DeviceClass          string   `xml:"deviceClass,attr"`
	MachineIdentifier    string   `xml:"machineIdentifier,attr"`
	Product              string   `xml:"product,attr"`
	ProtocolCapabilities string   `xml:"protocolCapabilities,attr"`
	ProtocolVersion      string   `xml:"protocolVersion,attr"`
	Title                string   `xml:"title,attr"`
	Version              string   `xml:"version,attr"`
}

type resourcesContainer struct {
	XMLName xml.Name `xml:"MediaContainer"`
	Player  playerElement
}

func (s *Server) handleResources(w http.ResponseWriter, _ url.Values, _ *http.Request) {
	cfg := s.cfg.Get()

	capabilities := "timeline,playback,navigation"
	if cfg.EnablePlayQueue {
		capabilities = "timeline,playback,navigation,playqueues"
	}

	data, err := xml.Marshal(resourcesContainer{Player: playerElement{
		DeviceClass:          "pc",
		MachineIdentifier:    cfg.ClientUUID,
		Product:              "plexcast",
		ProtocolCapabilities: capabilities,
		ProtocolVersion:      "1",
		Title:                cfg.PlayerName,
		Version:              "1.0",
	}})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.writeXML(w, append([]byte(xml.Header), data...))
}

func (s *Server) handlePlayMedia(w http.ResponseWriter, query url.Values, _ *http.Request) {
	address := query.Get("address")
	protocol := query.Get("protocol")
	if protocol == "" {
		protocol = "http"
	}
	port := query.Get("port")
	if port == "" {
		port = "32400"
	}
	key := query.Get("key")
	containerKey := query.Get("containerKey")

	offsetMs, _ := strconv.ParseInt(query.Get("offset"), 10, 64)
	offset := float64(offsetMs) / 1e3

	if token := query.Get("token"); token != "" {
		s.client.UpdateToken(address, token)
	}

	mediaURL := fmt.Sprintf("%s://%s:%s%s", protocol, address, port, key)

	var media *plex.Media
	var err error
	if s.cfg.Get().EnablePlayQueue && strings.HasPrefix(containerKey, "/playQueue") {
		media, err = plex.LoadPlayQueue(s.client, mediaURL, containerKey)
	} else {
		media, err = plex.LoadMedia(s.client, mediaURL)
	}
	if err != nil {
		log.Errorf("playMedia: %v", err)
		s.writeResponse(w, 500, err.Error())
		return
	}

	if err := s.controller.Play(media.Current(), offset); err != nil {
		log.Errorf("playMedia: %v", err)
		s.writeResponse(w, 500, err.Error())
		return
	}

	s.timeline.SendToSubscribers()
	s.ok(w)
}

func (s *Server) handleStop(w http.ResponseWriter, _ url.Values, _ *http.Request) {
	s.controller.Stop()
	s.timeline.SendToSubscribers()
	s.ok(w)
}

func (s *Server) handlePausePlay(w http.ResponseWriter, _ url.Values, _ *http.Request) {
	s.controller.TogglePause()
	s.timeline.SendToSubscribers()
	s.ok(w)
}

func (s *Server) handleSeekTo(w http.ResponseWriter, query url.Values, _ *http.Request) {
	offsetMs, _ := strconv.ParseInt(query.Get("offset"), 10, 64)
	s.controller.Seek(float64(offsetMs) / 1e3)
	s.ok(w)
}

func (s *Server) handleSkipNext(w http.ResponseWriter, _ url.Values, _ *http.Request) {
	s.controller.PlayNext()
	s.ok(w)
}

func (s *Server) handleSkipPrevious(w http.ResponseWriter, _ url.Values, _ *http.Request) {
	s.controller.PlayPrev()
	s.ok(w)
}

func (s *Server) handleSkipTo(w http.ResponseWriter, query url.Values, _ *http.Request) {
	s.controller.SkipTo(query.Get("key"))
	s.ok(w)
}

func (s *Server) handleSetParameters(w http.ResponseWriter, query url.Values, _ *http.Request) {
	if raw := query.Get("volume"); raw != "" {
		if volume, err := strconv.Atoi(raw); err == nil {
			s.controller.SetVolume(volume)
		} else {
			log.Errorf("setParameters: invalid volume %q", raw)
		}
	}
	if raw := query.Get("autoPlay"); raw != "" {
		s.controller.SetAutoPlay(raw == "1")
	}
	s.ok(w)
}

func (s *Server) handleSetStreams(w http.ResponseWriter, query url.Values, _ *http.Request) {
	var audioID, subtitleID *string
	if query.Has("audioStreamID") {
		v := query.Get("audioStreamID")
		audioID = &v
	}
	if query.Has("subtitleStreamID") {
		v := query.Get("subtitleStreamID")
		subtitleID = &v
	}
	s.controller.SetStreams(audioID, subtitleID)
	s.ok(w)
}

func (s *Server) handleRefreshPlayQueue(w http.ResponseWriter, _ url.Values, _ *http.Request) {
	video := s.controller.Status().Video
	if video == nil {
		s.writeResponse(w, 500, "nothing is playing")
		return
	}

	refresher, ok := video.Parent().(interface{ Refresh() error })
	if !ok {
		s.writeResponse(w, 500, "current media has no play queue")
		return
	}
	if err := refresher.Refresh(); err != nil {
		log.Errorf("refreshPlayQueue: %v", err)
		s.writeResponse(w, 500, err.Error())
		return
	}

	s.timeline.SendToSubscribers()
	s.ok(w)
}

// subscriberFromRequest builds a push subscriber from the identifying
// headers and query arguments.
func subscriberFromRequest(r *http.Request, query url.Values) (*timeline.Subscriber, error) {
	uuid := r.Header.Get("X-Plex-Client-Identifier")
	if uuid == "" {
		return nil, fmt.Errorf("subscriber did not set X-Plex-Client-Identifier")
	}
	name := r.Header.Get("X-Plex-Device-Name")
	if name == "" {
		name = query.Get("X-Plex-Device-Name")
	}
	if name == "" {
		return nil, fmt.Errorf("subscriber did not set X-Plex-Device-Name")
	}

	port := 32400
	if raw := query.Get("port"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			port = p
		}
	}
	commandID := -1
	if raw := query.Get("commandID"); raw != "" {
		if id, err := strconv.Atoi(raw); err == nil {
			commandID = id
		}
	}
	protocol := query.Get("protocol")
	if protocol == "" {
		protocol = "http"
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	return &timeline.Subscriber{
		UUID:      uuid,
		CommandID: commandID,
		Host:      host,
		Port:      port,
		Protocol:  protocol,
		Name:      name,
	}, nil
}

func (s *Server) handleSubscribe(w http.ResponseWriter, query url.Values, r *http.Request) {
	sub, err := subscriberFromRequest(r, query)
	if err != nil {
		log.Warnf("subscribe: %v", err)
		s.writeResponse(w, 500, err.Error())
		return
	}
	s.ok(w)
	s.timeline.Subscribe(sub)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, _ url.Values, r *http.Request) {
	if uuid := r.Header.Get("X-Plex-Client-Identifier"); uuid != "" {
		s.timeline.Unsubscribe(uuid)
	}
	s.ok(w)
}

func (s *Server) handlePoll(w http.ResponseWriter, query url.Values, r *http.Request) {
	uuid := r.Header.Get("X-Plex-Client-Identifier")
	commandID, err := strconv.Atoi(query.Get("commandID"))
	if uuid == "" || err != nil {
		s.writeResponse(w, 500, "poll requires X-Plex-Client-Identifier and commandID")
		return
	}

	sub := &timeline.Subscriber{
		UUID:      uuid,
		CommandID: commandID,
		Name:      r.Header.Get("X-Plex-Device-Name"),
	}
	s.timeline.Subscribe(sub)

	var body []byte
	if wait := query.Get("wait"); wait == "1" || wait == "true" {
		body, err = s.timeline.WaitForTimeline(sub)
	} else {
		body, err = s.timeline.CurrentTimelineXML(sub)
	}
	if err != nil {
		s.writeResponse(w, 500, err.Error())
		return
	}
	s.writeXML(w, body)
}
