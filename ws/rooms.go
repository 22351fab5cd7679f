package ws

import (
	"sort"
	"sync"
)

// RoomStore is the set of joined conversations, replayed after a reconnect.
type RoomStore struct {
	sync.RWMutex
	rooms map[string]struct{}
}

func newRoomStore() *RoomStore {
	return &RoomStore{rooms: make(map[string]struct{})}
}

func (rs *RoomStore) has(id string) bool {
	rs.RLock()
	_, ok := rs.rooms[id]
	rs.RUnlock()
	return ok
}

func (rs *RoomStore) add(id string) {
	rs.Lock()
	rs.rooms[id] = struct{}{}
	rs.Unlock()
}

func (rs *RoomStore) del(id string) bool {
	rs.Lock()
	defer rs.Unlock()
	if _, ok := rs.rooms[id]; ok {
		delete(rs.rooms, id)
		return true
	}
	return false
}

// list returns the joined rooms sorted.
func (rs *RoomStore) list() []string {
	rs.RLock()
	defer rs.RUnlock()
	out := make([]string, 0, len(rs.rooms))
	for id := range rs.rooms {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
