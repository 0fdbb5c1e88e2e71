package signal

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nlazarev/visavis/internal/app"
	"github.com/nlazarev/visavis/internal/proto"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ctl := NewController(app.NewRouter(app.NewRegistry()), 65536)
	engine := gin.New()
	engine.GET("/ws", func(c *gin.Context) {
		ctl.HandleSignal(ctx, c)
	})

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return srv
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
	id   int64
}

func dialClient(t *testing.T, srv *httptest.Server) *wsClient {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	c := &wsClient{t: t, conn: conn}
	t.Cleanup(func() { conn.Close() })
	return c
}

func (c *wsClient) readRaw() []byte {
	c.t.Helper()
	if err := c.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		c.t.Fatalf("set read deadline: %v", err)
	}
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return data
}

func (c *wsClient) read() proto.Envelope {
	c.t.Helper()
	env, err := proto.Decode(c.readRaw())
	if err != nil {
		c.t.Fatalf("undecodable frame: %v", err)
	}
	return env
}

// waitType reads until an envelope of the wanted type arrives, skipping
// interleaved roster updates and the like.
func (c *wsClient) waitType(typ proto.Type) proto.Envelope {
	c.t.Helper()
	for i := 0; i < 20; i++ {
		env := c.read()
		if env.Type == typ {
			return env
		}
	}
	c.t.Fatalf("never received a %s envelope", typ)
	return proto.Envelope{}
}

func (c *wsClient) send(env proto.Envelope) {
	c.t.Helper()
	data, err := env.Encode()
	if err != nil {
		c.t.Fatalf("encode: %v", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

// join runs the naming handshake and returns the name the relay
// actually assigned.
func (c *wsClient) join(requested string) string {
	c.t.Helper()
	idEnv := c.waitType(proto.TypeID)
	c.id = idEnv.ID
	c.send(proto.Envelope{Type: proto.TypeUsername, Name: requested, ID: c.id, Date: time.Now().UnixMilli()})

	assigned := requested
	for i := 0; i < 20; i++ {
		env := c.read()
		switch env.Type {
		case proto.TypeRejectUsername:
			assigned = env.Name
		case proto.TypeUserList:
			for _, u := range env.Users {
				if u == assigned {
					return assigned
				}
			}
		}
	}
	c.t.Fatalf("never saw %q in a roster", assigned)
	return ""
}

// waitRoster reads userlist envelopes until one matches want.
func (c *wsClient) waitRoster(want []string) {
	c.t.Helper()
	var last []string
	for i := 0; i < 20; i++ {
		env := c.waitType(proto.TypeUserList)
		last = env.Users
		if equalRoster(env.Users, want) {
			return
		}
	}
	c.t.Fatalf("roster=%v, want %v", last, want)
}

func equalRoster(got, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestHandshakeOverWebSocket(t *testing.T) {
	srv := newTestServer(t)
	c := dialClient(t, srv)

	idEnv := c.read()
	if idEnv.Type != proto.TypeID || idEnv.ID == 0 {
		t.Fatalf("first envelope=%+v, want id assignment", idEnv)
	}
	if roster := c.read(); roster.Type != proto.TypeUserList {
		t.Fatalf("second envelope=%+v, want userlist", roster)
	}
}

func TestNameCollisionOverWebSocket(t *testing.T) {
	srv := newTestServer(t)
	c1 := dialClient(t, srv)
	if got := c1.join("alice"); got != "alice" {
		t.Fatalf("first alice assigned %q", got)
	}

	c2 := dialClient(t, srv)
	if got := c2.join("alice"); got != "alice1" {
		t.Fatalf("second alice assigned %q, want alice1", got)
	}

	c3 := dialClient(t, srv)
	if got := c3.join("bob"); got != "bob" {
		t.Fatalf("bob assigned %q", got)
	}

	c1.waitRoster([]string{"alice", "alice1", "bob"})
}

func TestOfferRelayedVerbatimOverWebSocket(t *testing.T) {
	srv := newTestServer(t)
	alice := dialClient(t, srv)
	alice.join("alice")
	bob := dialClient(t, srv)
	bob.join("bob")
	alice.waitRoster([]string{"alice", "bob"})
	bob.waitRoster([]string{"alice", "bob"})

	raw := []byte(`{"type":"video-offer","name":"alice","target":"bob","sdp":{"type":"offer","sdp":"v=0\r\nexact bytes"}}`)
	if err := alice.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write: %v", err)
	}

	got := bob.readRaw()
	if !bytes.Equal(got, raw) {
		t.Fatalf("offer not relayed byte-for-byte:\n got %s\nwant %s", got, raw)
	}
}

func TestDisconnectUpdatesRoster(t *testing.T) {
	srv := newTestServer(t)
	alice := dialClient(t, srv)
	alice.join("alice")
	bob := dialClient(t, srv)
	bob.join("bob")
	bob.waitRoster([]string{"alice", "bob"})

	alice.conn.Close()

	bob.waitRoster([]string{"bob"})
}
