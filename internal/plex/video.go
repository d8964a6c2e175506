// internal/plex/video.go
package plex

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/llehouerou/plexcast/internal/player"
)

// Video is one playable item of a Media container. It resolves the
// direct-play URL for its current part, maps Plex stream ids to engine
// stream indexes and reports watched state and position back to the
// owning server.
type Video struct {
	media *Media
	index int

	part     int
	audioIDs map[string]int // stream id -> engine audio index
	subIDs   map[string]int // stream id -> engine subtitle index
	selAudio int            // engine index of the selected audio stream, 0 if none
	selSub   int
}

// newVideo assumes media.mu is held.
func newVideo(m *Media, index int) *Video {
	v := &Video{media: m, index: index, part: 1}
	v.mapStreams()
	return v
}

func (v *Video) element() *videoElement {
	return &v.media.container.Videos[v.index]
}

// mapStreams numbers the current part's streams the way the engine
// does: each stream type counts from 1 in file order. Assumes
// media.mu is held.
func (v *Video) mapStreams() {
	v.audioIDs = make(map[string]int)
	v.subIDs = make(map[string]int)
	v.selAudio = 0
	v.selSub = 0

	part := v.partElement()
	if part == nil {
		return
	}

	audio, sub := 0, 0
	for _, s := range part.Streams {
		switch s.StreamType {
		case streamTypeAudio:
			audio++
			v.audioIDs[s.ID] = audio
			if s.Selected != "" && s.Selected != "0" {
				v.selAudio = audio
			}
		case streamTypeSubtitle:
			sub++
			v.subIDs[s.ID] = sub
			if s.Selected != "" && s.Selected != "0" {
				v.selSub = sub
			}
		}
	}
}

// partElement assumes media.mu is held.
func (v *Video) partElement() *partElement {
	el := v.element()
	if len(el.Media) == 0 {
		return nil
	}
	parts := el.Media[0].Parts
	if v.part < 1 || v.part > len(parts) {
		return nil
	}
	return &parts[v.part-1]
}

// PlaybackURL resolves the signed direct-play URL for the current part.
// An empty string means the part has no file key or the server URL is
// not allowed.
func (v *Video) PlaybackURL() string {
	v.media.mu.Lock()
	part := v.partElement()
	var key string
	if part != nil {
		key = part.Key
	}
	base := v.media.base.String()
	v.media.mu.Unlock()

	if key == "" {
		return ""
	}
	signed, err := v.media.client.SignURL(base+key, nil)
	if err != nil {
		log.Errorf("resolve playback url: %v", err)
		return ""
	}
	return signed
}

// Duration returns the item duration in seconds, 0 if unknown.
func (v *Video) Duration() float64 {
	v.media.mu.Lock()
	defer v.media.mu.Unlock()
	return float64(v.element().Duration) / 1e3
}

// AudioIndex returns the engine index of the server-selected audio
// stream, if any.
func (v *Video) AudioIndex() (int, bool) {
	v.media.mu.Lock()
	defer v.media.mu.Unlock()
	return v.selAudio, v.selAudio > 0
}

// SubtitleIndex returns the engine index of the server-selected
// subtitle stream, if any.
func (v *Video) SubtitleIndex() (int, bool) {
	v.media.mu.Lock()
	defer v.media.mu.Unlock()
	return v.selSub, v.selSub > 0
}

// AudioStreamIndex maps a Plex audio stream id to an engine index.
func (v *Video) AudioStreamIndex(id string) (int, bool) {
	v.media.mu.Lock()
	defer v.media.mu.Unlock()
	idx, ok := v.audioIDs[id]
	return idx, ok
}

// SubtitleStreamIndex maps a Plex subtitle stream id to an engine index.
func (v *Video) SubtitleStreamIndex(id string) (int, bool) {
	v.media.mu.Lock()
	defer v.media.mu.Unlock()
	idx, ok := v.subIDs[id]
	return idx, ok
}

// SetPlayed marks the item watched on the server.
func (v *Video) SetPlayed() error {
	params := url.Values{
		"key":        {v.ratingKey()},
		"identifier": {libraryIdentifier},
	}
	if err := v.media.client.Request(v.media.base.String()+"/:/scrobble", params); err != nil {
		return fmt.Errorf("mark played: %w", err)
	}
	return nil
}

// SetUnplayed clears the watched flag on the server.
func (v *Video) SetUnplayed() error {
	params := url.Values{
		"key":        {v.ratingKey()},
		"identifier": {libraryIdentifier},
	}
	if err := v.media.client.Request(v.media.base.String()+"/:/unscrobble", params); err != nil {
		return fmt.Errorf("mark unplayed: %w", err)
	}
	return nil
}

// UpdatePosition reports the playback position to the server.
func (v *Video) UpdatePosition(seconds float64) error {
	params := url.Values{
		"key":        {v.ratingKey()},
		"identifier": {libraryIdentifier},
		"time":       {strconv.FormatInt(int64(seconds*1e3), 10)},
	}
	if err := v.media.client.Request(v.media.base.String()+"/:/progress", params); err != nil {
		return fmt.Errorf("report position: %w", err)
	}
	return nil
}

// IsMultipart reports whether the item is split into several files.
func (v *Video) IsMultipart() bool {
	v.media.mu.Lock()
	defer v.media.mu.Unlock()
	el := v.element()
	return len(el.Media) > 0 && len(el.Media[0].Parts) > 1
}

// SelectPart switches to the given 1-based part and renumbers its
// streams, reporting whether the part exists.
func (v *Video) SelectPart(part int) bool {
	v.media.mu.Lock()
	defer v.media.mu.Unlock()
	el := v.element()
	if len(el.Media) == 0 || part < 1 || part > len(el.Media[0].Parts) {
		return false
	}
	v.part = part
	v.mapStreams()
	return true
}

// Attr reads a named attribute from the item's metadata, returning def
// when absent.
func (v *Video) Attr(name, def string) string {
	v.media.mu.Lock()
	defer v.media.mu.Unlock()
	el := v.element()

	var value string
	switch name {
	case "ratingKey":
		value = el.RatingKey
	case "key":
		value = el.Key
	case "guid":
		value = el.GUID
	case "duration":
		if el.Duration > 0 {
			value = strconv.FormatInt(el.Duration, 10)
		}
	case "playQueueItemID":
		value = el.PlayQueueItemID
	default:
		for _, a := range el.Attrs {
			if a.Name.Local == name {
				value = a.Value
				break
			}
		}
	}
	if value == "" {
		return def
	}
	return value
}

// Parent returns the Media container the item belongs to.
func (v *Video) Parent() player.Container {
	return v.media
}

func (v *Video) ratingKey() string {
	v.media.mu.Lock()
	defer v.media.mu.Unlock()
	return v.element().RatingKey
}

var _ player.Video = (*Video)(nil)
