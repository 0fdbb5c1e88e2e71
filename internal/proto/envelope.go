// Package proto defines the JSON envelope exchanged between clients and
// the signaling relay. The relay reads only the routing fields; sdp and
// candidate payloads stay opaque and are forwarded verbatim.
package proto

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

type Type string

const (
	TypeID             Type = "id"
	TypeUsername       Type = "username"
	TypeRejectUsername Type = "rejectusername"
	TypeUserList       Type = "userlist"
	TypeMessage        Type = "message"
	TypeVideoOffer     Type = "video-offer"
	TypeVideoAnswer    Type = "video-answer"
	TypeNewICE         Type = "new-ice-candidate"
	TypeHangUp         Type = "hang-up"
)

var (
	ErrUnknownType   = errors.New("unknown envelope type")
	ErrMissingField  = errors.New("missing required field")
	ErrMissingTarget = fmt.Errorf("%w: target", ErrMissingField)
)

// Envelope is the union of fields over all message types. Which fields
// are required depends on Type; Decode rejects envelopes that do not
// carry the fields their type demands.
type Envelope struct {
	Type      Type            `json:"type"`
	ID        int64           `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Target    string          `json:"target,omitempty"`
	Date      int64           `json:"date,omitempty"`
	Text      string          `json:"text,omitempty"`
	Users     []string        `json:"users,omitempty"`
	SDP       json.RawMessage `json:"sdp,omitempty"`
	Candidate json.RawMessage `json:"candidate,omitempty"`
}

// Decode parses and validates an inbound envelope. It fails closed: an
// unknown type or a type-required field that is absent is an error, so
// the caller drops the frame instead of forwarding garbage.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("envelope: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func (e *Envelope) Validate() error {
	switch e.Type {
	case TypeID:
		return nil
	case TypeUsername, TypeRejectUsername:
		if e.Name == "" {
			return fmt.Errorf("%w: name", ErrMissingField)
		}
	case TypeUserList:
		return nil
	case TypeMessage:
		if e.Text == "" {
			return fmt.Errorf("%w: text", ErrMissingField)
		}
	case TypeVideoOffer, TypeVideoAnswer:
		if e.Target == "" {
			return ErrMissingTarget
		}
		if len(e.SDP) == 0 {
			return fmt.Errorf("%w: sdp", ErrMissingField)
		}
	case TypeNewICE:
		if e.Target == "" {
			return ErrMissingTarget
		}
		if len(e.Candidate) == 0 {
			return fmt.Errorf("%w: candidate", ErrMissingField)
		}
	case TypeHangUp:
		if e.Target == "" {
			return ErrMissingTarget
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownType, e.Type)
	}
	return nil
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

var markupRe = regexp.MustCompile(`(<([^>]+)>)`)

// SanitizeText strips anything that looks like markup from chat text so
// a client cannot inject tags into another client's view.
func SanitizeText(text string) string {
	return markupRe.ReplaceAllString(text, "")
}
