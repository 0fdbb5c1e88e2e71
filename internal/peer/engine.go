// Package peer implements the client side of a call: the negotiation
// state machine that drives offer/answer/ICE exchange over the relay,
// plus the relay client itself.
package peer

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/nlazarev/visavis/internal/proto"
)

type Config struct {
	Sender       Sender
	Media        MediaSource
	Sink         RenderSink
	NewTransport TransportFactory

	// LocalName reports the current verified display name; it can
	// change mid-session when the relay rejects the requested name.
	LocalName func() string

	// OnError receives user-visible failures. Benign media errors and
	// routine teardowns never reach it.
	OnError func(error)
}

type eventKind int

const (
	evInvite eventKind = iota
	evHangUpLocal
	evHangUpRemote
	evEnvelope
	evNegotiationNeeded
	evLocalCandidate
	evRemoteTrack
	evTransportClosed
)

type event struct {
	kind   eventKind
	target string
	env    proto.Envelope
	cand   Candidate
	stream StreamHandle
	done   chan error
}

// Engine runs the per-participant negotiation state machine. All
// transitions are applied by a single event loop, so no two transitions
// for the session ever interleave; that serialization is what makes the
// glare rollback well-defined.
type Engine struct {
	cfg    Config
	events chan event
	state  atomic.Int32

	// loop-owned, never touched outside Run
	ctx  context.Context
	sess *session
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg,
		events: make(chan event, 64),
	}
}

// State is safe to read from any goroutine.
func (e *Engine) State() State { return State(e.state.Load()) }

// Run consumes events until ctx is canceled. Public triggers block
// until Run has processed them, so Run must be started first.
func (e *Engine) Run(ctx context.Context) {
	e.ctx = ctx
	for {
		select {
		case <-ctx.Done():
			e.teardown()
			return
		case ev := <-e.events:
			err := e.dispatch(ev)
			if ev.done != nil {
				ev.done <- err
			}
		}
	}
}

// Invite starts a call to the named peer. Rejected with ErrBusy while
// any session exists; a second call is never queued.
func (e *Engine) Invite(target string) error {
	return e.post(event{kind: evInvite, target: target})
}

// HangUp tears the current session down and notifies the peer. It is
// the only cancellation primitive: safe from any state and idempotent.
func (e *Engine) HangUp() error {
	return e.post(event{kind: evHangUpLocal})
}

// HandleEnvelope feeds one inbound signaling envelope to the machine.
// The caller (the relay read loop) invokes it sequentially, which keeps
// envelope processing in exact arrival order.
func (e *Engine) HandleEnvelope(env proto.Envelope) error {
	return e.post(event{kind: evEnvelope, env: env})
}

// ConnectionLost handles relay channel loss as an implicit hang-up.
func (e *Engine) ConnectionLost() error {
	return e.post(event{kind: evHangUpRemote})
}

func (e *Engine) post(ev event) error {
	ev.done = make(chan error, 1)
	e.events <- ev
	return <-ev.done
}

// postAsync is for transport callbacks: never blocks the transport's
// goroutine. Dropping under pressure is safe, every dropped event kind
// is either best-effort or re-triggered.
func (e *Engine) postAsync(ev event) {
	select {
	case e.events <- ev:
	default:
		log.Warn().Str("module", "peer.engine").Msg("event queue full, dropping callback event")
	}
}

func (e *Engine) dispatch(ev event) error {
	switch ev.kind {
	case evInvite:
		return e.handleInvite(ev.target)
	case evHangUpLocal:
		e.handleHangUp(true)
	case evHangUpRemote:
		e.handleHangUp(false)
	case evEnvelope:
		e.handleInbound(ev.env)
	case evNegotiationNeeded:
		e.handleNegotiationNeeded()
	case evLocalCandidate:
		e.handleLocalCandidate(ev.cand)
	case evRemoteTrack:
		if e.cfg.Sink != nil {
			e.cfg.Sink.Attach(ev.stream)
		}
	case evTransportClosed:
		if e.sess != nil {
			log.Info().Str("module", "peer.engine").Str("remote", e.sess.remote).Msg("transport closed, tearing down")
			e.teardown()
		}
	}
	return nil
}

func (e *Engine) handleInbound(env proto.Envelope) {
	switch env.Type {
	case proto.TypeVideoOffer:
		e.handleOffer(env)
	case proto.TypeVideoAnswer:
		e.handleAnswer(env)
	case proto.TypeNewICE:
		e.handleRemoteCandidate(env.Candidate)
	case proto.TypeHangUp:
		e.handleHangUp(false)
	default:
		log.Debug().Str("module", "peer.engine").Str("type", string(env.Type)).Msg("ignoring non-call envelope")
	}
}

func (e *Engine) handleInvite(target string) error {
	if e.sess != nil {
		return ErrBusy
	}

	sess := &session{remote: target}
	transport, err := e.newTransport()
	if err != nil {
		e.notify(err)
		return err
	}
	sess.transport = transport
	e.sess = sess
	e.setState(StateInviting)

	if err := e.attachLocalMedia(); err != nil {
		return err
	}
	// AttachStream changes the transceiver set, which fires the
	// renegotiation-needed signal; the offer goes out from there.
	return nil
}

// handleNegotiationNeeded builds and commits a local offer. If a
// negotiation is already in flight the request is dropped, not queued:
// a concurrent second exchange would corrupt the description state, and
// the transport re-signals when the transceiver set changes again.
func (e *Engine) handleNegotiationNeeded() {
	if e.sess == nil {
		return
	}
	st := e.State()
	if st != StateInviting && st != StateConnected {
		log.Debug().Str("module", "peer.engine").Str("state", st.String()).Msg("negotiation needed while unstable, dropping")
		return
	}

	offer, err := e.sess.transport.CreateOffer()
	if err != nil {
		e.fail(err)
		return
	}
	if err := e.sess.transport.SetLocalDescription(offer); err != nil {
		e.fail(err)
		return
	}
	e.send(proto.Envelope{
		Type:   proto.TypeVideoOffer,
		Name:   e.localName(),
		Target: e.sess.remote,
		SDP:    e.sess.transport.LocalDescription(),
	})
	e.setState(StateOfferPending)
}

func (e *Engine) handleOffer(env proto.Envelope) {
	if e.sess != nil && e.sess.remote != env.Name {
		log.Warn().Str("module", "peer.engine").Str("from", env.Name).Str("busy_with", e.sess.remote).Msg("offer from third party while in a call, dropping")
		return
	}

	if e.sess == nil {
		sess := &session{remote: env.Name}
		transport, err := e.newTransport()
		if err != nil {
			e.notify(err)
			return
		}
		sess.transport = transport
		e.sess = sess
	}

	if e.State() == StateOfferPending {
		// Glare: both sides offered at once. The callee side rolls its
		// own offer back and adopts the remote one; rollback and apply
		// form one transition, and failure of either closes the call.
		if err := e.sess.transport.Rollback(); err != nil {
			e.fail(err)
			return
		}
	}
	if err := e.sess.transport.SetRemoteDescription(env.SDP); err != nil {
		e.fail(err)
		return
	}
	e.sess.remoteSet = true
	e.flushCandidates()
	e.setState(StateAnswerPending)

	if err := e.attachLocalMedia(); err != nil {
		return
	}
	// Attaching media here must not produce a fresh offer: the
	// renegotiation signal fires but is dropped in AnswerPending.

	answer, err := e.sess.transport.CreateAnswer()
	if err != nil {
		e.fail(err)
		return
	}
	if err := e.sess.transport.SetLocalDescription(answer); err != nil {
		e.fail(err)
		return
	}
	e.send(proto.Envelope{
		Type:   proto.TypeVideoAnswer,
		Name:   e.localName(),
		Target: e.sess.remote,
		SDP:    e.sess.transport.LocalDescription(),
	})
	e.setState(StateConnected)
}

func (e *Engine) handleAnswer(env proto.Envelope) {
	if e.sess == nil || e.State() != StateOfferPending {
		log.Warn().Str("module", "peer.engine").Str("state", e.State().String()).Msg("unexpected answer, dropping")
		return
	}
	if err := e.sess.transport.SetRemoteDescription(env.SDP); err != nil {
		e.fail(err)
		return
	}
	e.sess.remoteSet = true
	e.flushCandidates()
	e.setState(StateConnected)
}

func (e *Engine) handleRemoteCandidate(cand Candidate) {
	if e.sess == nil {
		log.Debug().Str("module", "peer.engine").Msg("candidate without session, dropping")
		return
	}
	if !e.sess.remoteSet {
		e.sess.pending = append(e.sess.pending, cand)
		return
	}
	if err := e.sess.transport.AddICECandidate(cand); err != nil {
		// Candidates are best-effort: a bad one is skipped, never fatal.
		log.Warn().Err(err).Str("module", "peer.engine").Msg("add ice candidate")
	}
}

// flushCandidates applies queued candidates in exact arrival order,
// right after the remote description commits.
func (e *Engine) flushCandidates() {
	for _, cand := range e.sess.pending {
		if err := e.sess.transport.AddICECandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "peer.engine").Msg("flush ice candidate")
		}
	}
	e.sess.pending = nil
}

func (e *Engine) handleLocalCandidate(cand Candidate) {
	if e.sess == nil {
		return
	}
	e.send(proto.Envelope{
		Type:      proto.TypeNewICE,
		Target:    e.sess.remote,
		Candidate: cand,
	})
}

func (e *Engine) handleHangUp(local bool) {
	if e.sess == nil {
		return // already idle, hang-up is idempotent
	}
	if local {
		e.send(proto.Envelope{
			Type:   proto.TypeHangUp,
			Name:   e.localName(),
			Target: e.sess.remote,
		})
	}
	e.teardown()
}

// attachLocalMedia acquires the local stream (if not yet attached) and
// hands it to the transport. Media failures tear the session down;
// benign ones (no device, user declined) do so without a user-visible
// error.
func (e *Engine) attachLocalMedia() error {
	if e.sess.stream != nil {
		return nil
	}
	stream, err := e.cfg.Media.Acquire(e.ctx)
	if err != nil {
		if IsBenignMediaError(err) {
			log.Info().Err(err).Str("module", "peer.engine").Msg("media unavailable, aborting call")
			e.teardown()
		} else {
			e.fail(err)
		}
		return err
	}
	e.sess.stream = stream
	if err := e.sess.transport.AttachStream(stream); err != nil {
		e.fail(err)
		return err
	}
	return nil
}

// teardown unconditionally releases everything the session owns and
// returns to Idle. Safe from any state.
func (e *Engine) teardown() {
	if e.sess == nil {
		e.setState(StateIdle)
		return
	}
	e.setState(StateClosing)
	if err := e.sess.transport.Close(); err != nil {
		log.Warn().Err(err).Str("module", "peer.engine").Msg("transport close")
	}
	if e.sess.stream != nil {
		if err := e.sess.stream.Close(); err != nil {
			log.Warn().Err(err).Str("module", "peer.engine").Msg("stream close")
		}
	}
	e.sess = nil
	e.setState(StateIdle)
}

// fail reports a negotiation error to the user and tears down.
func (e *Engine) fail(err error) {
	log.Error().Err(err).Str("module", "peer.engine").Msg("negotiation failed")
	e.notify(err)
	e.teardown()
}

func (e *Engine) notify(err error) {
	if e.cfg.OnError != nil {
		e.cfg.OnError(err)
	}
}

func (e *Engine) newTransport() (PeerTransport, error) {
	return e.cfg.NewTransport(TransportCallbacks{
		OnNegotiationNeeded: func() { e.postAsync(event{kind: evNegotiationNeeded}) },
		OnICECandidate:      func(c Candidate) { e.postAsync(event{kind: evLocalCandidate, cand: c}) },
		OnTrack:             func(s StreamHandle) { e.postAsync(event{kind: evRemoteTrack, stream: s}) },
		OnClosed:            func() { e.postAsync(event{kind: evTransportClosed}) },
	})
}

func (e *Engine) send(env proto.Envelope) {
	if err := e.cfg.Sender.Send(env); err != nil {
		log.Warn().Err(err).Str("module", "peer.engine").Str("type", string(env.Type)).Msg("send envelope")
	}
}

func (e *Engine) localName() string {
	if e.cfg.LocalName != nil {
		return e.cfg.LocalName()
	}
	return ""
}

func (e *Engine) setState(s State) {
	e.state.Store(int32(s))
}
