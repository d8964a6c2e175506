// internal/timeline/timeline.go
package timeline

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/llehouerou/plexcast/internal/config"
	"github.com/llehouerou/plexcast/internal/player"
)

var log = logrus.WithField("component", "timeline")

// serverMedia is what a Plex-backed container additionally knows about
// its owning server. Containers from other sources simply produce a
// shorter timeline.
type serverMedia interface {
	MachineIdentifier() string
	Server() *url.URL
	QueueInfo() map[string]string
}

// Manager periodically drives the playback controller and reports its
// state to subscribed Plex remotes. One report per second while a video
// is playing, fewer while paused.
type Manager struct {
	controller *player.Controller
	cfg        *config.Store
	subs       *subscriberList
	httpClient *http.Client
	halt       chan struct{}
	done       chan struct{}
}

// NewManager creates a timeline manager around the controller.
func NewManager(controller *player.Controller, cfg *config.Store) *Manager {
	return &Manager{
		controller: controller,
		cfg:        cfg,
		subs:       newSubscriberList(),
		httpClient: &http.Client{Timeout: 5 * time.Second},
		halt:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run drives the update loop until Stop is called.
func (m *Manager) Run() {
	defer close(m.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-m.halt:
			return
		case <-ticker.C:
			status := m.controller.Status()
			if status.Video != nil && status.State == player.StatePlaying {
				m.SendToSubscribers()
			}
			m.controller.Update()
		}
	}
}

// Stop halts the update loop and waits for it to exit.
func (m *Manager) Stop() {
	close(m.halt)
	<-m.done
}

// Subscribe registers a remote for timeline pushes and sends it an
// immediate snapshot.
func (m *Manager) Subscribe(sub *Subscriber) {
	m.subs.Add(sub)
	m.sendTo(sub)
}

// Unsubscribe drops a remote.
func (m *Manager) Unsubscribe(uuid string) {
	m.subs.Remove(uuid)
}

// UpdateCommandID refreshes the stored command id for a remote.
func (m *Manager) UpdateCommandID(uuid string, commandID int) {
	m.subs.UpdateCommandID(uuid, commandID)
}

// SendToSubscribers pushes the current timeline to every push-capable
// subscriber.
func (m *Manager) SendToSubscribers() {
	for _, sub := range m.subs.All() {
		m.sendTo(sub)
	}
}

func (m *Manager) sendTo(sub *Subscriber) {
	base := sub.URL()
	if base == "" {
		return
	}

	data, err := m.CurrentTimelineXML(sub)
	if err != nil {
		log.Errorf("build timeline: %v", err)
		return
	}

	target := base + "/:/timeline"
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(data))
	if err != nil {
		log.Errorf("push timeline to %s: %v", target, err)
		return
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Plex-Client-Identifier", m.cfg.Get().ClientUUID)

	resp, err := m.httpClient.Do(req)
	if err != nil {
		log.Debugf("push timeline to %s: %v", target, err)
		return
	}
	resp.Body.Close()
}

// WaitForTimeline blocks briefly before producing a snapshot, giving a
// long-polling remote a chance to observe the effect of the command it
// just sent.
func (m *Manager) WaitForTimeline(sub *Subscriber) ([]byte, error) {
	time.Sleep(time.Second)
	return m.CurrentTimelineXML(sub)
}

type timelineElement struct {
	XMLName xml.Name   `xml:"Timeline"`
	Attrs   []xml.Attr `xml:",any,attr"`
}

type timelineContainer struct {
	XMLName   xml.Name `xml:"MediaContainer"`
	CommandID string   `xml:"commandID,attr,omitempty"`
	Location  string   `xml:"location,attr"`
	Timeline  timelineElement
}

// CurrentTimelineXML builds the timeline document for a subscriber.
func (m *Manager) CurrentTimelineXML(sub *Subscriber) ([]byte, error) {
	attrs := m.currentTimeline()

	container := timelineContainer{}
	if sub != nil {
		container.CommandID = strconv.Itoa(sub.CommandID)
	}
	for _, a := range attrs {
		if a.Name.Local == "location" {
			container.Location = a.Value
		}
	}
	container.Timeline.Attrs = attrs

	data, err := xml.Marshal(container)
	if err != nil {
		return nil, fmt.Errorf("encode timeline: %w", err)
	}
	return append([]byte(xml.Header), data...), nil
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

// currentTimeline assembles the timeline attributes from the
// controller's state. Location stays empty while idle so remotes do not
// pop up a navigation screen.
func (m *Manager) currentTimeline() []xml.Attr {
	status := m.controller.Status()
	cfg := m.cfg.Get()

	attrs := []xml.Attr{
		attr("location", ""),
		attr("state", status.State),
		attr("type", "video"),
	}

	if status.Video == nil {
		return append(attrs, attr("time", "0"))
	}

	video := status.Video
	durationMs := int64(status.Duration * 1e3)

	attrs[0] = attr("location", "fullScreenVideo")
	attrs = append(attrs,
		attr("time", strconv.FormatInt(int64(status.Position*1e3), 10)),
		attr("autoPlay", boolFlag(status.AutoPlay)),
		attr("ratingKey", video.Attr("ratingKey", "")),
		attr("key", video.Attr("key", "")),
		attr("containerKey", video.Attr("key", "")),
		attr("guid", video.Attr("guid", "")),
	)

	controllable := []string{
		"playPause", "stop", "stepBack", "stepForward",
		"subtitleStream", "audioStream", "skipTo", "autoPlay",
	}
	if durationMs > 0 {
		attrs = append(attrs,
			attr("duration", strconv.FormatInt(durationMs, 10)),
			attr("seekRange", fmt.Sprintf("0-%d", durationMs)),
		)
		controllable = append(controllable, "seekTo")
	}
	if status.HasNext {
		controllable = append(controllable, "skipNext")
	}
	if status.HasPrev {
		controllable = append(controllable, "skipPrevious")
	}
	if cfg.AudioOutput != "hdmi" {
		controllable = append(controllable, "volume")
		attrs = append(attrs, attr("volume", strconv.Itoa(status.Volume)))
	}
	attrs = append(attrs, attr("controllable", strings.Join(controllable, ",")))

	if media, ok := video.Parent().(serverMedia); ok {
		server := media.Server()
		attrs = append(attrs,
			attr("machineIdentifier", media.MachineIdentifier()),
			attr("protocol", server.Scheme),
			attr("address", server.Hostname()),
			attr("port", server.Port()),
		)
		for key, value := range media.QueueInfo() {
			attrs = setAttr(attrs, key, value)
		}
	}

	return attrs
}

// setAttr replaces an existing attribute or appends a new one.
func setAttr(attrs []xml.Attr, name, value string) []xml.Attr {
	for i, a := range attrs {
		if a.Name.Local == name {
			attrs[i].Value = value
			return attrs
		}
	}
	return append(attrs, attr(name, value))
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
