package app

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/nlazarev/visavis/internal/core"
	"github.com/nlazarev/visavis/internal/domain"
	"github.com/nlazarev/visavis/internal/proto"
)

var ErrNotRegistered = errors.New("connection not registered")

// Router owns message delivery: it reads only the routing fields of an
// envelope and either forwards it to one named recipient or fans it out
// to everyone. Session descriptions and ICE candidates pass through
// byte-for-byte.
type Router struct {
	Registry *Registry
}

func NewRouter(reg *Registry) *Router {
	return &Router{Registry: reg}
}

// Connect registers the transport channel, tells the new client its
// assigned id and re-broadcasts the roster.
func (rt *Router) Connect(conn core.SignalConnection) domain.ID {
	identity, snap := rt.Registry.Register(conn)

	rt.sendTo(conn, proto.Envelope{Type: proto.TypeID, ID: int64(identity.ID)})
	rt.broadcastUserList(snap)
	return identity.ID
}

// Disconnect removes the connection and re-broadcasts the roster. Safe
// to call even if the naming handshake never completed; this is also
// the transport-loss path.
func (rt *Router) Disconnect(id domain.ID) {
	snap := rt.Registry.Unregister(id)
	rt.broadcastUserList(snap)
}

// HandleFrame dispatches one inbound envelope from the identified
// sender. Malformed frames are logged and dropped; they never reach
// other clients and never close the connection.
func (rt *Router) HandleFrame(sender domain.ID, raw core.Frame) {
	env, err := proto.Decode(raw)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.router").Int64("sender", int64(sender)).Msg("dropping bad envelope")
		return
	}

	switch env.Type {
	case proto.TypeUsername:
		rt.handleUsername(sender, env)
	case proto.TypeMessage:
		rt.handleMessage(sender, env)
	case proto.TypeVideoOffer, proto.TypeVideoAnswer, proto.TypeNewICE, proto.TypeHangUp:
		// Negotiation envelopes relay verbatim; only target is read.
		rt.deliverRaw(env.Target, raw)
	default:
		log.Warn().Str("module", "app.router").Str("type", string(env.Type)).Msg("client sent server-bound type")
	}
}

func (rt *Router) handleUsername(sender domain.ID, env proto.Envelope) {
	assigned, changed, snap, err := rt.Registry.SetName(sender, env.Name)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.router").Int64("sender", int64(sender)).Msg("rejected name request")
		return
	}

	if changed {
		if rec, ok := rt.lookupID(snap, sender); ok {
			rt.sendTo(rec.Conn, proto.Envelope{
				Type: proto.TypeRejectUsername,
				ID:   int64(sender),
				Name: assigned,
			})
		}
	}
	rt.broadcastUserList(snap)
}

func (rt *Router) handleMessage(sender domain.ID, env proto.Envelope) {
	// Never trust the client-supplied name; stamp the verified one.
	env.Name = rt.Registry.NameOf(sender)
	env.Text = proto.SanitizeText(env.Text)

	data, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("re-encode message")
		return
	}
	rt.deliverRaw(env.Target, data)
}

// deliverRaw sends the frame to the single connection named target, or
// to everyone when target is empty. A missing target is absorbed, not
// reported: it may simply have disconnected mid-flight.
func (rt *Router) deliverRaw(target string, data core.Frame) {
	if target != "" {
		snap, ok := rt.Registry.Lookup(target)
		if !ok {
			log.Debug().Str("module", "app.router").Str("target", target).Msg("target not connected, dropping")
			return
		}
		rt.trySend(snap, data)
		return
	}
	for _, snap := range rt.Registry.Snapshot() {
		rt.trySend(snap, data)
	}
}

func (rt *Router) broadcastUserList(snap []ConnSnap) {
	users := make([]string, 0, len(snap))
	for _, s := range snap {
		if s.Name != "" {
			users = append(users, s.Name)
		}
	}
	data, err := proto.Envelope{Type: proto.TypeUserList, Users: users}.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode userlist")
		return
	}
	for _, s := range snap {
		rt.trySend(s, data)
	}
}

func (rt *Router) sendTo(conn core.SignalConnection, env proto.Envelope) {
	data, err := env.Encode()
	if err != nil {
		log.Error().Err(err).Str("module", "app.router").Msg("encode envelope")
		return
	}
	if err := conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Msg("send failed")
	}
}

func (rt *Router) trySend(snap ConnSnap, data core.Frame) {
	if err := snap.Conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "app.router").Int64("id", int64(snap.ID)).Msg("send failed, dropping frame")
	}
}

func (rt *Router) lookupID(snap []ConnSnap, id domain.ID) (ConnSnap, bool) {
	for _, s := range snap {
		if s.ID == id {
			return s, true
		}
	}
	return ConnSnap{}, false
}
