package memory

import (
	"crypto/rand"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/orbitsync/orbit/backend/model"
)

const (
	defaultRoomIDLength = 4

	roomIDAlphabet = "1234567890qwertyuiopasdfghjklzxcvbnm"

	// maxCreateAttempts bounds collision retries during room id generation.
	// With a 36-char alphabet collisions are already negligible at any
	// realistic room count, so hitting this bound means something is wrong.
	maxCreateAttempts = 16
)

var (
	ErrRoomNotFound = errors.New("room is not found")
	ErrRoomClosed   = errors.New("room is closed")
	ErrIDsExhausted = errors.New("unable to generate unique room id")
)

// Room is the authoritative state of one watch session.
//
// Room is not safe for concurrent use by itself: callers must hold the
// embedded mutex across every compound operation (lookup, mutate,
// broadcast) so that two events for the same room never interleave.
type Room struct {
	sync.Mutex

	id          string
	videoID     string
	currentTime float64
	isPlaying   bool
	members     map[string]string // connection id -> display name
	createdAt   time.Time
	closed      bool
}

func newRoom(id string) *Room {
	return &Room{
		id:        id,
		members:   make(map[string]string),
		createdAt: time.Now(),
	}
}

func (r *Room) ID() string { return r.id }

// Closed reports whether the room was already torn down. A caller that
// got hold of the pointer before deletion must treat it as not found.
func (r *Room) Closed() bool { return r.closed }

func (r *Room) CreatedAt() time.Time { return r.createdAt }

// AddMember registers the connection under the given display name.
// Joining again simply updates the name.
func (r *Room) AddMember(connID, displayName string) error {
	if r.closed {
		return ErrRoomClosed
	}
	r.members[connID] = displayName
	return nil
}

// RemoveMember drops the connection from the room and reports whether it
// was a member, along with the remaining member count.
func (r *Room) RemoveMember(connID string) (bool, int) {
	if _, ok := r.members[connID]; !ok {
		return false, len(r.members)
	}
	delete(r.members, connID)
	return true, len(r.members)
}

func (r *Room) HasMember(connID string) bool {
	_, ok := r.members[connID]
	return ok
}

func (r *Room) MemberName(connID string) (string, bool) {
	name, ok := r.members[connID]
	return name, ok
}

func (r *Room) MemberCount() int { return len(r.members) }

// Roster returns all display names, sorted for deterministic output.
func (r *Room) Roster() []string {
	names := make([]string, 0, len(r.members))
	for _, name := range r.members {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetVideo loads a new video. Playback position and state always reset.
func (r *Room) SetVideo(videoID string) {
	r.videoID = videoID
	r.currentTime = 0
	r.isPlaying = false
}

func (r *Room) Play(currentTime float64) {
	r.isPlaying = true
	r.currentTime = currentTime
}

func (r *Room) Pause(currentTime float64) {
	r.isPlaying = false
	r.currentTime = currentTime
}

// Seek updates the position only, leaving the play state untouched.
func (r *Room) Seek(currentTime float64) {
	r.currentTime = currentTime
}

func (r *Room) State() model.RoomState {
	return model.RoomState{
		VideoID:     r.videoID,
		CurrentTime: r.currentTime,
		IsPlaying:   r.isPlaying,
	}
}

// markClosed flags the room as torn down. Must be called right before
// the store entry is deleted, under the room lock.
func (r *Room) markClosed() {
	r.closed = true
}

type MemStore struct {
	mx       *sync.Mutex
	db       map[string]*Room
	idLength int
}

func NewMemStore() *MemStore {
	return NewMemStoreWithIDLength(defaultRoomIDLength)
}

func NewMemStoreWithIDLength(idLength int) *MemStore {
	if idLength <= 0 {
		idLength = defaultRoomIDLength
	}
	return &MemStore{
		mx:       &sync.Mutex{},
		db:       make(map[string]*Room),
		idLength: idLength,
	}
}

// CreateRoom allocates an empty room under a freshly generated id.
// Id collisions are retried, never silently overwritten.
func (ms *MemStore) CreateRoom() (*Room, error) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		id, err := generateRoomID(ms.idLength)
		if err != nil {
			return nil, err
		}
		if _, exists := ms.db[id]; exists {
			continue
		}
		room := newRoom(id)
		ms.db[id] = room
		return room, nil
	}
	return nil, ErrIDsExhausted
}

func (ms *MemStore) Get(roomID string) (*Room, bool) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	room, ok := ms.db[roomID]
	return room, ok
}

// Delete removes the room from the registry and marks it closed so that
// a handler holding a stale pointer cannot revive it.
func (ms *MemStore) Delete(roomID string) {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	if room, ok := ms.db[roomID]; ok {
		room.markClosed()
		delete(ms.db, roomID)
	}
}

// Rooms returns a snapshot of all active rooms.
func (ms *MemStore) Rooms() []*Room {
	ms.mx.Lock()
	defer ms.mx.Unlock()

	rooms := make([]*Room, 0, len(ms.db))
	for _, room := range ms.db {
		rooms = append(rooms, room)
	}
	return rooms
}

func (ms *MemStore) Len() int {
	ms.mx.Lock()
	defer ms.mx.Unlock()
	return len(ms.db)
}

func generateRoomID(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := make([]byte, length)
	for i, b := range buf {
		id[i] = roomIDAlphabet[int(b)%len(roomIDAlphabet)]
	}
	return string(id), nil
}
