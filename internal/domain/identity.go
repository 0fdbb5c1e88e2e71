// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const MaxDisplayNameLen = 64

var (
	ErrNameTooLong = errors.New("display name too long")
	ErrNameEmpty   = errors.New("display name empty")
)

// ID is the server-assigned token for one connection. It is strictly
// increasing for the lifetime of the relay process and never reused
// while the connection that owns it is open.
type ID int64

// Identity denotes one connected participant: the assigned ID plus a
// mutable display name. Names are unique among connected identities at
// any instant; the registry enforces that, not this package.
type Identity struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

func ValidateName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxDisplayNameLen {
		return ErrNameTooLong
	}
	return nil
}

func (i *Identity) SetName(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	i.Name = name
	return nil
}
