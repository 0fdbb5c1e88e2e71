package peer

// State of the negotiation machine for the current session.
type State int32

const (
	StateIdle State = iota
	StateInviting
	StateOfferPending
	StateAnswerPending
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInviting:
		return "inviting"
	case StateOfferPending:
		return "offer-pending"
	case StateAnswerPending:
		return "answer-pending"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// session is the client-local context for one active or pending call.
// It exists from the first outbound invite or inbound offer until
// teardown, which must release the stream before the session goes away.
type session struct {
	remote    string
	transport PeerTransport
	stream    StreamHandle

	// remoteSet flips once the remote description commits; until then
	// trickled candidates wait in pending, in arrival order.
	remoteSet bool
	pending   []Candidate
}
