package server

import (
	"errors"
	"sort"
	"sync"
)

var (
	ErrRoomExists   = errors.New("server: room already exists")
	ErrRoomNotFound = errors.New("server: room not found")
)

// MaxRoomNameLength is the upper bound on room name length.
const MaxRoomNameLength = 64

// RoomRegistry tracks named rooms and their member sets. Rooms exist only
// for the server process lifetime; membership never outlives the room.
type RoomRegistry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

// NewRoomRegistry creates an empty room registry.
func NewRoomRegistry() *RoomRegistry {
	return &RoomRegistry{
		rooms: make(map[string]map[string]struct{}),
	}
}

// Create adds a new empty room. Fails with ErrRoomExists if the name is
// already taken; the existing room and its membership are untouched.
func (r *RoomRegistry) Create(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rooms[name]; exists {
		return ErrRoomExists
	}
	r.rooms[name] = make(map[string]struct{})
	return nil
}

// Delete removes a room and returns its former members, sorted. Fails with
// ErrRoomNotFound if no such room exists.
func (r *RoomRegistry) Delete(name string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, exists := r.rooms[name]
	if !exists {
		return nil, ErrRoomNotFound
	}
	delete(r.rooms, name)
	names := make([]string, 0, len(members))
	for m := range members {
		names = append(names, m)
	}
	sort.Strings(names)
	return names, nil
}

// Join adds a username to a room's member set. Joining a room the user is
// already in is a no-op. Fails with ErrRoomNotFound if the room does not exist.
func (r *RoomRegistry) Join(name, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, exists := r.rooms[name]
	if !exists {
		return ErrRoomNotFound
	}
	members[username] = struct{}{}
	return nil
}

// Leave removes a username from a room's member set. Removing an absent
// member is a no-op. Fails with ErrRoomNotFound if the room does not exist.
func (r *RoomRegistry) Leave(name, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, exists := r.rooms[name]
	if !exists {
		return ErrRoomNotFound
	}
	delete(members, username)
	return nil
}

// Members returns a sorted snapshot of a room's member usernames. An absent
// room yields an empty slice.
func (r *RoomRegistry) Members(name string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, exists := r.rooms[name]
	if !exists {
		return nil
	}
	names := make([]string, 0, len(members))
	for m := range members {
		names = append(names, m)
	}
	sort.Strings(names)
	return names
}

// IsMember reports whether a username belongs to a room. False for absent rooms.
func (r *RoomRegistry) IsMember(name, username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members, exists := r.rooms[name]
	if !exists {
		return false
	}
	_, ok := members[username]
	return ok
}

// Exists reports whether a room with the given name exists.
func (r *RoomRegistry) Exists(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.rooms[name]
	return exists
}

// List returns a sorted snapshot of all room names.
func (r *RoomRegistry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.rooms))
	for name := range r.rooms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
