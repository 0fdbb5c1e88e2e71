package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/nlazarev/visavis/internal/proto"
)

// Client is the persistent channel to the relay. It runs the identity
// handshake (id assignment, name request, possible rejectusername) and
// forwards call envelopes to whoever is wired into OnCall — normally
// Engine.HandleEnvelope, invoked sequentially from the read loop so
// envelope order is preserved.
type Client struct {
	conn *websocket.Conn

	mu   sync.Mutex // guards writes and name
	name string
	want string
	id   int64

	// OnRoster receives each userlist snapshot.
	OnRoster func([]string)
	// OnMessage receives chat lines (verified sender name, sanitized text).
	OnMessage func(name, text string)
	// OnCall receives video-offer/video-answer/new-ice-candidate/hang-up.
	OnCall func(proto.Envelope) error
	// OnDisconnect fires once when the channel dies.
	OnDisconnect func(error)
}

// Dial connects to the relay signaling endpoint, e.g.
// "ws://localhost:6503/ws". The display name is requested during the
// handshake; the relay may assign a suffixed variant.
func Dial(ctx context.Context, url, name string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	return &Client{conn: conn, want: name}, nil
}

// Name returns the display name currently verified by the relay. Empty
// until the handshake completes.
func (c *Client) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Send implements Sender.
func (c *Client) Send(env proto.Envelope) error {
	data, err := env.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendChat sends a chat line, either to one peer or to everyone.
func (c *Client) SendChat(target, text string) error {
	return c.Send(proto.Envelope{
		Type:   proto.TypeMessage,
		Name:   c.Name(),
		Target: target,
		Text:   text,
		Date:   time.Now().UnixMilli(),
	})
}

// Run reads envelopes until the channel closes or ctx is canceled.
// Always returns a non-nil error describing why the channel ended.
func (c *Client) Run(ctx context.Context) error {
	defer c.conn.Close()

	go func() {
		<-ctx.Done()
		_ = c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.OnDisconnect != nil {
				c.OnDisconnect(err)
			}
			return fmt.Errorf("relay channel closed: %w", err)
		}
		c.handle(data)
	}
}

func (c *Client) handle(data []byte) {
	env, err := proto.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "peer.client").Msg("dropping bad envelope")
		return
	}

	switch env.Type {
	case proto.TypeID:
		c.mu.Lock()
		c.id = env.ID
		c.name = c.want
		c.mu.Unlock()
		if err := c.Send(proto.Envelope{
			Type: proto.TypeUsername,
			Name: c.want,
			Date: time.Now().UnixMilli(),
			ID:   env.ID,
		}); err != nil {
			log.Error().Err(err).Str("module", "peer.client").Msg("send username request")
		}
	case proto.TypeRejectUsername:
		// The relay resolved a collision; adopt the assigned name.
		c.mu.Lock()
		c.name = env.Name
		c.mu.Unlock()
		log.Info().Str("module", "peer.client").Str("name", env.Name).Msg("relay assigned alternate name")
	case proto.TypeUserList:
		if c.OnRoster != nil {
			c.OnRoster(env.Users)
		}
	case proto.TypeMessage:
		if c.OnMessage != nil {
			c.OnMessage(env.Name, env.Text)
		}
	case proto.TypeVideoOffer, proto.TypeVideoAnswer, proto.TypeNewICE, proto.TypeHangUp:
		if c.OnCall != nil {
			if err := c.OnCall(env); err != nil {
				log.Warn().Err(err).Str("module", "peer.client").Str("type", string(env.Type)).Msg("call envelope rejected")
			}
		}
	default:
		log.Debug().Str("module", "peer.client").Str("type", string(env.Type)).Msg("ignoring envelope")
	}
}
