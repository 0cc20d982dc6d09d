// Package client implements the viewer-side sync controller: it
// reconciles a local player against the canonical room state received
// from the server and turns genuine user actions into intent events.
package client

import (
	"errors"
	"math"

	"github.com/rs/zerolog"

	"github.com/orbitsync/orbit/backend/model"
	"github.com/orbitsync/orbit/backend/youtube"
)

const (
	// DriftTolerance is the largest position difference that is left to
	// correct itself naturally. Seeking for smaller differences causes
	// visible stutter.
	DriftTolerance = 0.6

	// PausedSeekThreshold is how far the sampled position must move
	// between ticks, while paused, to count as a manual scrubber drag.
	PausedSeekThreshold = 1.0
)

var ErrUnrecognizedReference = errors.New("unrecognized video reference")

// Player is the playback capability the controller drives. Embedding
// widgets expose exactly this surface: load a video, control playback,
// observe position and state.
type Player interface {
	LoadVideo(videoID string, startAt float64)
	Play()
	Pause()
	SeekTo(position float64)
	CurrentTime() float64
	VideoID() string
	IsPlaying() bool
}

// Emitter sends an intent event upstream to the session server.
type Emitter func(ev model.Event)

// Controller reconciles one viewer's player against canonical room
// state. All methods must be called from a single goroutine: the
// controller models the one cooperative timeline a UI runs on and
// carries no locks.
type Controller struct {
	roomID string
	player Player
	emit   Emitter
	logger zerolog.Logger

	state      model.RoomState
	ready      bool
	hasPending bool
	lastSample float64

	// suppress counts backend notifications that were caused by the
	// controller's own play/pause/load calls and must not be re-emitted
	// as user intents. Incremented right before every programmatic call
	// that triggers a state-change notification.
	suppress int
}

type Config struct {
	RoomID  string
	Player  Player
	Emitter Emitter
	Logger  *zerolog.Logger
}

func NewController(cfg Config) *Controller {
	return &Controller{
		roomID: cfg.RoomID,
		player: cfg.Player,
		emit:   cfg.Emitter,
		logger: cfg.Logger.With().Str("component", "sync-controller").Logger(),
	}
}

// Join emits the join intent for this viewer.
func (c *Controller) Join(displayName string) {
	c.emit(model.Event{
		Type:        model.EventJoin,
		RoomID:      c.roomID,
		DisplayName: displayName,
	})
}

// SubmitVideoReference parses a pasted URL or bare id and emits the
// video-change intent. A parse failure is a local validation error and
// nothing is sent.
func (c *Controller) SubmitVideoReference(input string) error {
	videoID, ok := youtube.ExtractVideoID(input)
	if !ok {
		return ErrUnrecognizedReference
	}
	c.emit(model.Event{
		Type:    model.EventSetVideo,
		RoomID:  c.roomID,
		VideoID: videoID,
	})
	return nil
}

// SendChat emits a chat message intent.
func (c *Controller) SendChat(text string) {
	if text == "" {
		return
	}
	c.emit(model.Event{
		Type:   model.EventChatMessage,
		RoomID: c.roomID,
		Text:   text,
	})
}

// HandleServerEvent folds a canonical server event into the shadow
// state and reconciles the player. While the player is not ready only
// the latest snapshot is kept and applied in full on the ready
// transition.
func (c *Controller) HandleServerEvent(ev model.ServerEvent) {
	switch ev.Type {
	case model.EventRoomState:
		c.state = model.RoomState{
			VideoID:     ev.VideoID,
			CurrentTime: ev.CurrentTime,
			IsPlaying:   ev.IsPlaying,
		}
	case model.EventVideoChanged:
		c.state = model.RoomState{VideoID: ev.VideoID}
	case model.EventPlaybackStarted:
		c.state.IsPlaying = true
		c.state.CurrentTime = ev.CurrentTime
	case model.EventPlaybackPaused:
		c.state.IsPlaying = false
		c.state.CurrentTime = ev.CurrentTime
	case model.EventPlaybackSeeked:
		c.state.CurrentTime = ev.CurrentTime
	default:
		// roster updates, chat and rejections carry no playback state
		return
	}

	if !c.ready {
		c.hasPending = true
		return
	}
	c.reconcile()
}

// OnPlayerReady marks the player usable and applies the buffered
// snapshot, if any.
func (c *Controller) OnPlayerReady() {
	c.ready = true
	c.lastSample = c.player.CurrentTime()
	if c.hasPending {
		c.hasPending = false
		c.reconcile()
	}
}

// OnPlayerStateChange handles a play/pause notification from the
// player backend. Notifications caused by the controller's own calls
// are swallowed; the rest are genuine user actions and become intents.
func (c *Controller) OnPlayerStateChange(playing bool) {
	if c.suppress > 0 {
		c.suppress--
		return
	}
	position := c.player.CurrentTime()
	kind := model.EventPause
	if playing {
		kind = model.EventPlay
	}
	c.emit(model.Event{
		Type:        kind,
		RoomID:      c.roomID,
		CurrentTime: position,
	})
}

// Tick samples the player position; call it once per second. A paused
// player whose position moved more than PausedSeekThreshold since the
// last sample was scrubbed manually, which some backends never report
// as a discrete event, so the new position is emitted as a seek intent.
func (c *Controller) Tick() {
	if !c.ready {
		return
	}
	position := c.player.CurrentTime()
	if !c.player.IsPlaying() && math.Abs(position-c.lastSample) > PausedSeekThreshold {
		c.emit(model.Event{
			Type:        model.EventSeek,
			RoomID:      c.roomID,
			CurrentTime: position,
		})
	}
	c.lastSample = position
}

func (c *Controller) reconcile() {
	if c.state.VideoID == "" {
		return
	}

	if c.player.VideoID() != c.state.VideoID {
		c.suppress++ // load fires a playing notification on most backends
		c.player.LoadVideo(c.state.VideoID, c.state.CurrentTime)
		if !c.state.IsPlaying {
			c.suppress++
			c.player.Pause()
		}
		c.lastSample = c.state.CurrentTime
		c.logger.Debug().
			Str("videoID", c.state.VideoID).
			Float64("currentTime", c.state.CurrentTime).
			Msg("loaded new video")
		return
	}

	if drift := math.Abs(c.player.CurrentTime() - c.state.CurrentTime); drift > DriftTolerance {
		c.player.SeekTo(c.state.CurrentTime)
		c.lastSample = c.state.CurrentTime
		c.logger.Debug().
			Float64("drift", drift).
			Float64("currentTime", c.state.CurrentTime).
			Msg("drift corrected")
	}

	switch {
	case c.state.IsPlaying && !c.player.IsPlaying():
		c.suppress++
		c.player.Play()
	case !c.state.IsPlaying && c.player.IsPlaying():
		c.suppress++
		c.player.Pause()
	}
}
