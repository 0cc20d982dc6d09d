package model

import (
	"errors"
	"fmt"
)

// Client event types. Every inbound message must carry one of these.
const (
	EventJoin        = "join"
	EventSetVideo    = "set_video"
	EventPlay        = "play"
	EventPause       = "pause"
	EventSeek        = "seek"
	EventChatMessage = "chat_message"
)

// Server event types that are sent back over the wire.
const (
	EventRoomState       = "room_state"
	EventRosterUpdate    = "roster_update"
	EventVideoChanged    = "video_changed"
	EventPlaybackStarted = "playback_started"
	EventPlaybackPaused  = "playback_paused"
	EventPlaybackSeeked  = "playback_seeked"
	EventJoinRejected    = "join_rejected"
)

var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrInvalidPayload   = errors.New("invalid event payload")
)

// Event is an inbound client intent. Payload fields are a union over
// the event types; Validate checks the shape required by each type.
type Event struct {
	Type        string  `json:"type"`
	RoomID      string  `json:"room_id"`
	SRC         string  `json:"src,omitempty"` // server re-assigns this based on websocket session
	DisplayName string  `json:"display_name,omitempty"`
	VideoID     string  `json:"video_id,omitempty"`
	CurrentTime float64 `json:"current_time,omitempty"`
	Text        string  `json:"text,omitempty"`
}

// Validate checks that the event carries the fields its type requires.
// Events failing validation are dropped by the transport, never dispatched.
func (ev *Event) Validate() error {
	if ev.RoomID == "" {
		return fmt.Errorf("%w: missing room id", ErrInvalidPayload)
	}
	switch ev.Type {
	case EventJoin:
		if ev.DisplayName == "" {
			return fmt.Errorf("%w: join without display name", ErrInvalidPayload)
		}
	case EventSetVideo:
		if ev.VideoID == "" {
			return fmt.Errorf("%w: set_video without video id", ErrInvalidPayload)
		}
	case EventPlay, EventPause, EventSeek:
		if ev.CurrentTime < 0 {
			return fmt.Errorf("%w: negative playback position", ErrInvalidPayload)
		}
	case EventChatMessage:
		if ev.Text == "" {
			return fmt.Errorf("%w: empty chat message", ErrInvalidPayload)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}
	return nil
}

// RoomState is the canonical playback state of a room.
// An empty VideoID means no video has been loaded yet;
// CurrentTime and IsPlaying are meaningful only while a video is present.
type RoomState struct {
	VideoID     string  `json:"video_id"`
	CurrentTime float64 `json:"current_time"`
	IsPlaying   bool    `json:"is_playing"`
}

// ServerEvent is an outbound message to one or all members of a room.
type ServerEvent struct {
	Type        string   `json:"type"`
	VideoID     string   `json:"video_id,omitempty"`
	CurrentTime float64  `json:"current_time"`
	IsPlaying   bool     `json:"is_playing,omitempty"`
	Users       []string `json:"users,omitempty"`
	Name        string   `json:"name,omitempty"`
	Text        string   `json:"text,omitempty"`
	Timestamp   int64    `json:"timestamp,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// Snapshot builds the room_state reply sent to a joining member.
func Snapshot(state RoomState) ServerEvent {
	return ServerEvent{
		Type:        EventRoomState,
		VideoID:     state.VideoID,
		CurrentTime: state.CurrentTime,
		IsPlaying:   state.IsPlaying,
	}
}

const defaultTXBufferSize = 32

type Wire struct {
	RX chan Event
	TX chan ServerEvent
}

// NewWire creates a connection wire. TX is buffered because broadcasts
// are fire-and-forget: a slow consumer gets messages dropped, not queued
// without bound.
func NewWire() Wire {
	return Wire{
		RX: make(chan Event),
		TX: make(chan ServerEvent, defaultTXBufferSize),
	}
}
