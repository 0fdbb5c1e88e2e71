package proto

import (
	"errors"
	"testing"
)

func TestDecodeValidEnvelopes(t *testing.T) {
	cases := []struct {
		name string
		data string
		want Type
	}{
		{"username", `{"type":"username","name":"alice","date":123,"id":42}`, TypeUsername},
		{"message", `{"type":"message","name":"alice","text":"hi"}`, TypeMessage},
		{"offer", `{"type":"video-offer","name":"alice","target":"bob","sdp":{"type":"offer","sdp":"v=0"}}`, TypeVideoOffer},
		{"answer", `{"type":"video-answer","name":"bob","target":"alice","sdp":{"type":"answer","sdp":"v=0"}}`, TypeVideoAnswer},
		{"candidate", `{"type":"new-ice-candidate","target":"bob","candidate":{"candidate":"c"}}`, TypeNewICE},
		{"hangup", `{"type":"hang-up","name":"alice","target":"bob"}`, TypeHangUp},
		{"userlist", `{"type":"userlist","users":["a","b"]}`, TypeUserList},
		{"id", `{"type":"id","id":17}`, TypeID},
	}
	for _, tc := range cases {
		env, err := Decode([]byte(tc.data))
		if err != nil {
			t.Fatalf("%s: Decode: %v", tc.name, err)
		}
		if env.Type != tc.want {
			t.Fatalf("%s: type=%q, want %q", tc.name, env.Type, tc.want)
		}
	}
}

func TestDecodeFailsClosed(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"not json", `{{{`},
		{"no type", `{"name":"alice"}`},
		{"unknown type", `{"type":"selfdestruct"}`},
		{"offer without target", `{"type":"video-offer","sdp":{"type":"offer","sdp":"v=0"}}`},
		{"offer without sdp", `{"type":"video-offer","target":"bob"}`},
		{"candidate without payload", `{"type":"new-ice-candidate","target":"bob"}`},
		{"hangup without target", `{"type":"hang-up","name":"alice"}`},
		{"username without name", `{"type":"username","date":1}`},
		{"message without text", `{"type":"message","name":"alice"}`},
	}
	for _, tc := range cases {
		if _, err := Decode([]byte(tc.data)); err == nil {
			t.Fatalf("%s: expected decode error", tc.name)
		}
	}
}

func TestDecodeMissingTargetSentinel(t *testing.T) {
	_, err := Decode([]byte(`{"type":"hang-up"}`))
	if !errors.Is(err, ErrMissingField) {
		t.Fatalf("err=%v, want ErrMissingField", err)
	}
}

func TestSanitizeText(t *testing.T) {
	cases := []struct{ in, want string }{
		{"hello", "hello"},
		{"<b>hello</b>", "hello"},
		{"<script>alert(1)</script>x", "alert(1)x"},
		{"a < b still fine", "a < b still fine"},
		{"<img src=x onerror=alert(1)>", ""},
	}
	for _, tc := range cases {
		if got := SanitizeText(tc.in); got != tc.want {
			t.Fatalf("SanitizeText(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSDPRelayedOpaque(t *testing.T) {
	raw := `{"type":"video-offer","name":"a","target":"b","sdp":{"type":"offer","sdp":"v=0\r\no=- 1 2","extra":true}}`
	env, err := Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	// The relay never parses sdp; whatever the client sent must survive.
	if string(env.SDP) != `{"type":"offer","sdp":"v=0\r\no=- 1 2","extra":true}` {
		t.Fatalf("sdp altered: %s", env.SDP)
	}
}
