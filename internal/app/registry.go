package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/Tushar-Sukhwal/ZoomOut/internal/core"
	"github.com/Tushar-Sukhwal/ZoomOut/internal/domain"
)

// roomEntry owns the membership set of a single room. Its mutex serializes
// all mutations for that room; the registry mutex only guards map shape.
type roomEntry struct {
	mu sync.Mutex
	// Insertion-ordered so participant snapshots reflect join order.
	participants []string
	// Set when the entry has been evicted from the registry. A caller that
	// fetched the entry before eviction must treat it as nonexistent.
	gone bool
}

func (e *roomEntry) index(name string) int {
	for i, p := range e.participants {
		if p == name {
			return i
		}
	}
	return -1
}

func (e *roomEntry) snapshot() []string {
	out := make([]string, len(e.participants))
	copy(out, e.participants)
	return out
}

// Registry implements core.Membership with per-room serialization: the
// registry-wide lock is never held across a member mutation, so operations
// on different rooms proceed in parallel.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*roomEntry
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*roomEntry)}
}

var _ core.Membership = (*Registry)(nil)

func (r *Registry) lookup(id domain.RoomID) *roomEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[id]
}

func (r *Registry) getOrCreate(id domain.RoomID) *roomEntry {
	r.mu.RLock()
	e, ok := r.rooms[id]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok = r.rooms[id]; ok {
		return e
	}
	e = &roomEntry{}
	r.rooms[id] = e
	log.Debug().Str("module", "app.registry").Str("room", string(id)).Msg("created room entry")
	return e
}

func (r *Registry) Create(id domain.RoomID, name string) []string {
	for {
		e := r.getOrCreate(id)
		e.mu.Lock()
		if e.gone {
			// Lost a race with the last leave; the entry is already off the
			// map, fetch a fresh one.
			e.mu.Unlock()
			continue
		}
		if e.index(name) < 0 {
			e.participants = append(e.participants, name)
			log.Info().Str("module", "app.registry").Str("room", string(id)).Str("name", name).Msg("participant added")
		}
		snap := e.snapshot()
		e.mu.Unlock()
		return snap
	}
}

func (r *Registry) Join(id domain.RoomID, name string) ([]string, error) {
	e := r.lookup(id)
	if e == nil {
		return nil, domain.ErrRoomNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil, domain.ErrRoomNotFound
	}
	if e.index(name) >= 0 {
		return nil, domain.ErrNameTaken
	}
	e.participants = append(e.participants, name)
	log.Info().Str("module", "app.registry").Str("room", string(id)).Str("name", name).Msg("participant joined")
	return e.snapshot(), nil
}

// Leave removes name from the room. Evicting an emptied room holds the
// registry lock so the map delete and the gone flag flip are one step.
func (r *Registry) Leave(id domain.RoomID, name string) bool {
	r.mu.Lock()
	e, ok := r.rooms[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	e.mu.Lock()
	if i := e.index(name); i >= 0 {
		e.participants = append(e.participants[:i], e.participants[i+1:]...)
		log.Info().Str("module", "app.registry").Str("room", string(id)).Str("name", name).Msg("participant left")
	}
	empty := len(e.participants) == 0
	if empty {
		e.gone = true
		delete(r.rooms, id)
		log.Info().Str("module", "app.registry").Str("room", string(id)).Msg("room emptied, entry evicted")
	}
	e.mu.Unlock()
	r.mu.Unlock()
	return empty
}

func (r *Registry) Exists(id domain.RoomID) bool {
	return r.lookup(id) != nil
}

func (r *Registry) Has(id domain.RoomID, name string) bool {
	e := r.lookup(id)
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.gone && e.index(name) >= 0
}

func (r *Registry) Participants(id domain.RoomID) []string {
	e := r.lookup(id)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.gone {
		return nil
	}
	return e.snapshot()
}
