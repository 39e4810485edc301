// Package rooms owns the registry of chat rooms and their member sets.
// Rooms are owned solely by the registry; snapshots handed to callers are
// independent copies.
package rooms

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Summary describes one room for listing.
type Summary struct {
	ID        string
	Name      string
	UserCount int
	Created   string
}

// room is the registry-internal record. Never escapes the registry.
type room struct {
	name         string
	members      map[string]struct{}
	created      time.Time
	messageCount int
}

// Registry maps room ids to member sets. All mutations and reads pass
// through one registry-wide mutex.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
}

// NewRegistry returns an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*room)}
}

// Create allocates a fresh room with an empty member set and returns its id.
// Names are not unique: two creates with the same name yield two rooms.
func (r *Registry) Create(name string) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	r.rooms[id] = &room{
		name:    name,
		members: make(map[string]struct{}),
		created: time.Now(),
	}
	return id
}

// Join adds username to the room's member set. Idempotent. Returns false
// if the room does not exist.
func (r *Registry) Join(roomID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	rm.members[username] = struct{}{}
	return true
}

// Leave removes username from the room. If the member set becomes empty
// the room is removed from the registry, so no observer ever sees an
// empty room. Returns false if the room does not exist.
func (r *Registry) Leave(roomID, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	delete(rm.members, username)
	if len(rm.members) == 0 {
		delete(r.rooms, roomID)
	}
	return true
}

// Members returns a snapshot copy of the room's member set, stable within
// the call. Nil if the room does not exist.
func (r *Registry) Members(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	members := make([]string, 0, len(rm.members))
	for username := range rm.members {
		members = append(members, username)
	}
	sort.Strings(members)
	return members
}

// Exists reports whether the room id is registered.
func (r *Registry) Exists(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.rooms[roomID]
	return ok
}

// RecordMessage increments the room's message counter.
func (r *Registry) RecordMessage(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		rm.messageCount++
	}
}

// MessageCount returns the number of messages relayed through the room.
func (r *Registry) MessageCount(roomID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rm, ok := r.rooms[roomID]; ok {
		return rm.messageCount
	}
	return 0
}

// List returns a snapshot of all rooms, ordered by creation time.
func (r *Registry) List() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Summary, 0, len(r.rooms))
	for id, rm := range r.rooms {
		out = append(out, Summary{
			ID:        id,
			Name:      rm.name,
			UserCount: len(rm.members),
			Created:   rm.created.Format(time.RFC3339),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created < out[j].Created })
	return out
}
