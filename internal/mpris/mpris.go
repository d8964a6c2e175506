//go:build linux

package mpris

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/quarckster/go-mpris-server/pkg/server"
	"github.com/quarckster/go-mpris-server/pkg/types"

	"github.com/llehouerou/plexcast/internal/player"
)

// Adapter exposes the playback controller to desktop environments over
// MPRIS on D-Bus, so media keys and desktop widgets can drive remote
// Plex playback too.
type Adapter struct {
	server *server.Server
}

// New creates and starts a new MPRIS adapter.
func New(controller *player.Controller) (*Adapter, error) {
	a := &Adapter{}

	rootAdapter := &rootAdapter{}
	playerAdapter := &playerAdapter{controller: controller}

	a.server = server.NewServer("plexcast", rootAdapter, playerAdapter)

	go func() {
		_ = a.server.Listen()
	}()

	return a, nil
}

// Close stops the adapter and releases D-Bus resources.
func (a *Adapter) Close() error {
	return a.server.Stop()
}

// rootAdapter implements OrgMprisMediaPlayer2Adapter.
type rootAdapter struct{}

func (r *rootAdapter) Raise() error {
	return nil // Not supported
}

func (r *rootAdapter) Quit() error {
	return nil // Not supported - the daemon manages its own lifecycle
}

func (r *rootAdapter) CanQuit() (bool, error) {
	return false, nil
}

func (r *rootAdapter) CanRaise() (bool, error) {
	return false, nil
}

func (r *rootAdapter) HasTrackList() (bool, error) {
	return false, nil
}

func (r *rootAdapter) Identity() (string, error) {
	return "Plexcast", nil
}

//nolint:revive // Method name required by interface.
func (r *rootAdapter) SupportedUriSchemes() ([]string, error) {
	return []string{"http", "https"}, nil
}

func (r *rootAdapter) SupportedMimeTypes() ([]string, error) {
	return []string{"video/mp4", "video/x-matroska", "video/avi"}, nil
}

// playerAdapter implements OrgMprisMediaPlayer2PlayerAdapter.
type playerAdapter struct {
	controller *player.Controller
}

func (p *playerAdapter) Next() error {
	p.controller.PlayNext()
	return nil
}

func (p *playerAdapter) Previous() error {
	p.controller.PlayPrev()
	return nil
}

func (p *playerAdapter) Pause() error {
	if p.controller.State() == player.StatePlaying {
		p.controller.TogglePause()
	}
	return nil
}

func (p *playerAdapter) PlayPause() error {
	p.controller.TogglePause()
	return nil
}

func (p *playerAdapter) Stop() error {
	p.controller.Stop()
	return nil
}

func (p *playerAdapter) Play() error {
	if p.controller.State() == player.StatePaused {
		p.controller.TogglePause()
	}
	return nil
}

func (p *playerAdapter) Seek(offset types.Microseconds) error {
	status := p.controller.Status()
	if status.Video == nil {
		return nil
	}
	target := status.Position + time.Duration(offset*1000).Seconds()
	if target < 0 {
		target = 0
	}
	p.controller.Seek(target)
	return nil
}

func (p *playerAdapter) SetPosition(_ string, position types.Microseconds) error {
	p.controller.Seek(time.Duration(position * 1000).Seconds())
	return nil
}

//nolint:revive // Method name required by interface.
func (p *playerAdapter) OpenUri(_ string) error {
	return nil // Playback starts through the command server only
}

func (p *playerAdapter) PlaybackStatus() (types.PlaybackStatus, error) {
	switch p.controller.State() {
	case player.StatePlaying:
		return types.PlaybackStatusPlaying, nil
	case player.StatePaused:
		return types.PlaybackStatusPaused, nil
	}
	return types.PlaybackStatusStopped, nil
}

func (p *playerAdapter) Rate() (float64, error) {
	return 1.0, nil
}

func (p *playerAdapter) SetRate(_ float64) error {
	return nil // Not supported
}

func (p *playerAdapter) Metadata() (types.Metadata, error) {
	status := p.controller.Status()
	if status.Video == nil {
		return types.Metadata{}, nil
	}

	video := status.Video
	meta := types.Metadata{
		TrackId: dbus.ObjectPath(formatTrackID(video.Attr("ratingKey", "unknown"))),
		Length:  types.Microseconds(int64(status.Duration * 1e6)),
		Title:   video.Attr("title", "Plex video"),
	}
	if show := video.Attr("grandparentTitle", ""); show != "" {
		meta.Artist = []string{show}
	}
	return meta, nil
}

func (p *playerAdapter) Volume() (float64, error) {
	return p.controller.VolumeRatio(), nil
}

func (p *playerAdapter) SetVolume(volume float64) error {
	if volume < 0 {
		volume = 0
	}
	p.controller.SetVolume(int(volume * 100))
	return nil
}

func (p *playerAdapter) Position() (int64, error) {
	return int64(p.controller.Status().Position * 1e6), nil
}

func (p *playerAdapter) MinimumRate() (float64, error) {
	return 1.0, nil
}

func (p *playerAdapter) MaximumRate() (float64, error) {
	return 1.0, nil
}

func (p *playerAdapter) CanGoNext() (bool, error) {
	return p.controller.Status().HasNext, nil
}

func (p *playerAdapter) CanGoPrevious() (bool, error) {
	return p.controller.Status().HasPrev, nil
}

func (p *playerAdapter) CanPlay() (bool, error) {
	return p.controller.Status().Video != nil, nil
}

func (p *playerAdapter) CanPause() (bool, error) {
	return true, nil
}

func (p *playerAdapter) CanSeek() (bool, error) {
	return true, nil
}

func (p *playerAdapter) CanControl() (bool, error) {
	return true, nil
}

func formatTrackID(key string) string {
	h := fnv.New64a()
	h.Write([]byte(key))
	return fmt.Sprintf("/org/mpris/MediaPlayer2/Track/%x", h.Sum64())
}
