// internal/plex/media.go
package plex

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"sync"

	"github.com/llehouerou/plexcast/internal/player"
)

// libraryIdentifier is the identifier Plex expects on scrobble and
// progress requests.
const libraryIdentifier = "com.plexapp.plugins.library"

type mediaContainer struct {
	MachineIdentifier       string         `xml:"machineIdentifier,attr"`
	PlayQueueID             string         `xml:"playQueueID,attr"`
	PlayQueueVersion        string         `xml:"playQueueVersion,attr"`
	PlayQueueSelectedItemID string         `xml:"playQueueSelectedItemID,attr"`
	Videos                  []videoElement `xml:"Video"`
}

type videoElement struct {
	RatingKey       string         `xml:"ratingKey,attr"`
	Key             string         `xml:"key,attr"`
	GUID            string         `xml:"guid,attr"`
	Duration        int64          `xml:"duration,attr"` // milliseconds
	PlayQueueItemID string         `xml:"playQueueItemID,attr"`
	Attrs           []xml.Attr     `xml:",any,attr"`
	Media           []mediaElement `xml:"Media"`
}

type mediaElement struct {
	Parts []partElement `xml:"Part"`
}

type partElement struct {
	ID      string          `xml:"id,attr"`
	Key     string          `xml:"key,attr"`
	Streams []streamElement `xml:"Stream"`
}

type streamElement struct {
	ID         string `xml:"id,attr"`
	StreamType int    `xml:"streamType,attr"`
	Selected   string `xml:"selected,attr"`
}

// Plex stream types.
const (
	streamTypeAudio    = 2
	streamTypeSubtitle = 3
)

// Media is a fetched media container: either a single item's metadata
// or a play queue listing several items. It keeps track of which item
// is current so the play queue can be walked forward and back.
type Media struct {
	client   *Client
	base     *url.URL // scheme://host:port of the owning server
	queueKey string   // play queue container key, "" for single items

	mu        sync.Mutex
	container mediaContainer
	current   int
}

// LoadMedia fetches a single item's metadata from an absolute server URL.
func LoadMedia(c *Client, mediaURL string) (*Media, error) {
	return load(c, mediaURL, "")
}

// LoadPlayQueue fetches a play queue container. mediaURL locates the
// initially selected item, queueKey the queue itself.
func LoadPlayQueue(c *Client, mediaURL, queueKey string) (*Media, error) {
	return load(c, mediaURL, queueKey)
}

func load(c *Client, mediaURL, queueKey string) (*Media, error) {
	u, err := url.Parse(mediaURL)
	if err != nil {
		return nil, fmt.Errorf("parse media url %q: %w", mediaURL, err)
	}

	m := &Media{
		client:   c,
		base:     &url.URL{Scheme: u.Scheme, Host: u.Host},
		queueKey: queueKey,
	}

	fetchPath := u.Path
	if queueKey != "" {
		fetchPath = queueKey
	}
	if err := c.GetXML(m.base.String()+fetchPath, nil, &m.container); err != nil {
		return nil, err
	}
	if len(m.container.Videos) == 0 {
		return nil, fmt.Errorf("no playable items at %s", fetchPath)
	}

	m.current = m.selectedIndex(u.Path)
	return m, nil
}

// selectedIndex finds the queue's selected item, falling back to a key
// match against the requested path, then to the first item.
func (m *Media) selectedIndex(requestedKey string) int {
	for i, v := range m.container.Videos {
		if m.container.PlayQueueSelectedItemID != "" &&
			v.PlayQueueItemID == m.container.PlayQueueSelectedItemID {
			return i
		}
		if requestedKey != "" && v.Key == requestedKey {
			return i
		}
	}
	return 0
}

// Refresh refetches the play queue from the server, keeping the current
// item selected. Single items are left untouched.
func (m *Media) Refresh() error {
	if m.queueKey == "" {
		return nil
	}

	m.mu.Lock()
	currentID := m.container.Videos[m.current].PlayQueueItemID
	m.mu.Unlock()

	var fresh mediaContainer
	if err := m.client.GetXML(m.base.String()+m.queueKey, nil, &fresh); err != nil {
		return fmt.Errorf("refresh play queue: %w", err)
	}
	if len(fresh.Videos) == 0 {
		return fmt.Errorf("play queue %s is empty", m.queueKey)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.container = fresh
	m.current = 0
	for i, v := range fresh.Videos {
		if v.PlayQueueItemID == currentID {
			m.current = i
			break
		}
	}
	return nil
}

// Server returns the base URL of the owning Plex server.
func (m *Media) Server() *url.URL {
	return m.base
}

// MachineIdentifier returns the server's machine identifier.
func (m *Media) MachineIdentifier() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.container.MachineIdentifier
}

// QueueInfo returns the play queue attributes a timeline report needs,
// nil when the media is not part of a play queue.
func (m *Media) QueueInfo() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.queueKey == "" {
		return nil
	}
	return map[string]string{
		"playQueueID":      m.container.PlayQueueID,
		"playQueueVersion": m.container.PlayQueueVersion,
		"playQueueItemID":  m.container.Videos[m.current].PlayQueueItemID,
		"containerKey":     m.queueKey,
	}
}

// Current returns the currently selected video.
func (m *Media) Current() *Video {
	m.mu.Lock()
	defer m.mu.Unlock()
	return newVideo(m, m.current)
}

// HasNext reports whether an item follows the current one.
func (m *Media) HasNext() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current < len(m.container.Videos)-1
}

// HasPrev reports whether an item precedes the current one.
func (m *Media) HasPrev() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current > 0
}

// Next returns the following item, nil at the end of the queue.
func (m *Media) Next() player.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current >= len(m.container.Videos)-1 {
		return nil
	}
	return &queueItem{media: m, index: m.current + 1}
}

// Prev returns the preceding item, nil at the start of the queue.
func (m *Media) Prev() player.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == 0 {
		return nil
	}
	return &queueItem{media: m, index: m.current - 1}
}

// ByKey resolves a queue item by its server key, nil if unknown.
func (m *Media) ByKey(key string) player.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range m.container.Videos {
		if v.Key == key {
			return &queueItem{media: m, index: i}
		}
	}
	return nil
}

// queueItem is one position in a Media container. Resolving its video
// makes that position the container's current item.
type queueItem struct {
	media *Media
	index int
}

func (q *queueItem) Video(index int) player.Video {
	if index != 0 {
		return nil
	}
	q.media.mu.Lock()
	defer q.media.mu.Unlock()
	if q.index < 0 || q.index >= len(q.media.container.Videos) {
		return nil
	}
	q.media.current = q.index
	return newVideo(q.media, q.index)
}

var (
	_ player.Container = (*Media)(nil)
	_ player.Item      = (*queueItem)(nil)
)
