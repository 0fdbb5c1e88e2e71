package app

import (
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nlazarev/visavis/internal/core"
	"github.com/nlazarev/visavis/internal/domain"
)

type record struct {
	identity domain.Identity
	conn     core.SignalConnection
}

// ConnSnap is one entry of a registry snapshot: identity plus its
// transport endpoint, safe to iterate outside the registry lock.
type ConnSnap struct {
	ID   domain.ID
	Name string
	Conn core.SignalConnection
}

// Registry is the single source of truth for who is connected. Every
// mutating operation returns the post-mutation snapshot so a caller can
// broadcast against exactly the membership it just produced, never a
// torn one.
type Registry struct {
	mu     sync.Mutex
	nextID int64
	suffix uint64 // global, never reset, so suffixed names never repeat
	conns  map[domain.ID]*record
	byName map[string]domain.ID
	order  []domain.ID
}

func NewRegistry() *Registry {
	return &Registry{
		// Seeding from wall-clock millis keeps ids unique across relay
		// restarts for clients that cache them; the increment under the
		// lock keeps them strictly increasing within one process even
		// for same-millisecond registrations.
		nextID: time.Now().UnixMilli(),
		suffix: 1,
		conns:  make(map[domain.ID]*record),
		byName: make(map[string]domain.ID),
	}
}

// Register assigns a fresh id to the connection and stores the record.
// The returned identity has no display name yet; the naming handshake
// fills it in via SetName.
func (r *Registry) Register(conn core.SignalConnection) (domain.Identity, []ConnSnap) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := domain.ID(r.nextID)
	r.nextID++

	r.conns[id] = &record{identity: domain.Identity{ID: id}, conn: conn}
	r.order = append(r.order, id)

	log.Info().Str("module", "app.registry").Int64("id", int64(id)).Msg("registered connection")
	return domain.Identity{ID: id}, r.snapshotLocked()
}

// SetName assigns a display name, suffixing with the global counter
// until it collides with no currently-connected name. Returns the name
// actually assigned, whether it differs from the request, and the
// snapshot taken under the same critical section.
func (r *Registry) SetName(id domain.ID, requested string) (string, bool, []ConnSnap, error) {
	if err := domain.ValidateName(requested); err != nil {
		return "", false, nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.conns[id]
	if !ok {
		return "", false, nil, ErrNotRegistered
	}

	assigned := requested
	for {
		owner, taken := r.byName[assigned]
		if !taken || owner == id {
			break
		}
		assigned = requested + strconv.FormatUint(r.suffix, 10)
		r.suffix++
	}

	if rec.identity.Name != "" {
		delete(r.byName, rec.identity.Name)
	}
	rec.identity.Name = assigned
	r.byName[assigned] = id

	log.Info().Str("module", "app.registry").Int64("id", int64(id)).Str("name", assigned).Msg("assigned name")
	return assigned, assigned != requested, r.snapshotLocked(), nil
}

// Unregister removes the record. Safe to call for connections that
// never completed the naming handshake, and for ids already removed.
func (r *Registry) Unregister(id domain.ID) []ConnSnap {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.conns[id]
	if !ok {
		return r.snapshotLocked()
	}
	if rec.identity.Name != "" {
		delete(r.byName, rec.identity.Name)
	}
	delete(r.conns, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	log.Info().Str("module", "app.registry").Int64("id", int64(id)).Msg("unregistered connection")
	return r.snapshotLocked()
}

// Lookup resolves a display name to its connection.
func (r *Registry) Lookup(name string) (ConnSnap, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[name]
	if !ok {
		return ConnSnap{}, false
	}
	rec := r.conns[id]
	return ConnSnap{ID: id, Name: rec.identity.Name, Conn: rec.conn}, true
}

// NameOf returns the verified display name of a connection, or empty if
// it has not completed the naming handshake.
func (r *Registry) NameOf(id domain.ID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.conns[id]; ok {
		return rec.identity.Name
	}
	return ""
}

// Snapshot returns all current connections in join order.
func (r *Registry) Snapshot() []ConnSnap {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Registry) snapshotLocked() []ConnSnap {
	out := make([]ConnSnap, 0, len(r.order))
	for _, id := range r.order {
		rec := r.conns[id]
		out = append(out, ConnSnap{ID: id, Name: rec.identity.Name, Conn: rec.conn})
	}
	return out
}
