package chat

import (
	"sort"
	"sync"
	"time"

	"github.com/pelusa-v/pelusa-chat.git/internal/models"
)

// PresenceRegistry tracks each user's live connection handles. Mutations of one
// user's entry are serialized by that entry's lock; the registry lock only
// guards the map itself. Entries are never removed so lastSeen survives.
type PresenceRegistry struct {
	mu      sync.Mutex
	entries map[string]*presenceEntry
	nowFn   func() time.Time

	// onChange runs under the user's entry lock after every transition that
	// others should hear about, so notifications for one user never reorder.
	onChange func(models.Presence)
}

type presenceEntry struct {
	mu       sync.Mutex
	userID   string
	status   models.Status
	lastSeen time.Time
	handles  map[string]struct{}
}

func NewPresenceRegistry(onChange func(models.Presence)) *PresenceRegistry {
	return &PresenceRegistry{
		entries:  make(map[string]*presenceEntry),
		nowFn:    time.Now,
		onChange: onChange,
	}
}

func (p *PresenceRegistry) entry(userID string, create bool) *presenceEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[userID]
	if !ok && create {
		e = &presenceEntry{
			userID:  userID,
			status:  models.StatusOffline,
			handles: make(map[string]struct{}),
		}
		p.entries[userID] = e
	}
	return e
}

// Register adds handle to userID's entry and marks the user online. A handle
// registered twice counts once.
func (p *PresenceRegistry) Register(userID, handle string) models.Presence {
	e := p.entry(userID, true)
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, dup := e.handles[handle]; dup {
		return e.snapshot()
	}
	e.handles[handle] = struct{}{}
	e.status = models.StatusOnline
	e.lastSeen = p.nowFn().UTC()

	snap := e.snapshot()
	if p.onChange != nil {
		p.onChange(snap)
	}
	return snap
}

// Deregister removes handle. The second return value is true only when this
// removed the user's last connection and the user went offline.
func (p *PresenceRegistry) Deregister(userID, handle string) (models.Presence, bool) {
	e := p.entry(userID, false)
	if e == nil {
		return offlinePresence(userID), false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.handles[handle]; !ok {
		return e.snapshot(), false
	}
	delete(e.handles, handle)
	if len(e.handles) > 0 {
		return e.snapshot(), false
	}

	e.status = models.StatusOffline
	e.lastSeen = p.nowFn().UTC()
	snap := e.snapshot()
	if p.onChange != nil {
		p.onChange(snap)
	}
	return snap, true
}

// Snapshot is a read-only lookup; ok is false for users never seen.
func (p *PresenceRegistry) Snapshot(userID string) (models.Presence, bool) {
	e := p.entry(userID, false)
	if e == nil {
		return offlinePresence(userID), false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(), true
}

// Online lists users with at least one live connection, ordered by user id.
func (p *PresenceRegistry) Online() []models.Presence {
	p.mu.Lock()
	entries := make([]*presenceEntry, 0, len(p.entries))
	for _, e := range p.entries {
		entries = append(entries, e)
	}
	p.mu.Unlock()

	out := make([]models.Presence, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if len(e.handles) > 0 {
			out = append(out, e.snapshot())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (e *presenceEntry) snapshot() models.Presence {
	return models.Presence{
		UserID:            e.userID,
		Status:            e.status,
		LastSeen:          e.lastSeen,
		ActiveConnections: len(e.handles),
	}
}

func offlinePresence(userID string) models.Presence {
	return models.Presence{UserID: userID, Status: models.StatusOffline}
}
