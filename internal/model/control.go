package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Control channel message types. The browser sends hello right after
// the channel opens, then key events and spell commands.
const (
	ControlHello   = "hello"
	ControlKey     = "key"
	ControlCommand = "command"
)

// Command vocabulary agreed with the gesture consumer. Unknown commands
// are still forwarded; the consumer owns the final say.
const (
	CommandFire       = "fire"
	CommandIce        = "ice"
	CommandProjectile = "projectile"
	CommandShield     = "shield"
	CommandMagnify    = "magnify"
)

var ErrMalformedControl = errors.New("malformed control message")

// ControlMessage is the discriminated union carried on the control
// channel, one JSON record per message.
type ControlMessage struct {
	Type string `json:"type"`

	// key event fields
	Key       string `json:"key,omitempty"`
	Code      string `json:"code,omitempty"`
	AltKey    bool   `json:"altKey,omitempty"`
	CtrlKey   bool   `json:"ctrlKey,omitempty"`
	ShiftKey  bool   `json:"shiftKey,omitempty"`
	MetaKey   bool   `json:"metaKey,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Down      bool   `json:"down"`

	// command field
	Command string `json:"command,omitempty"`
}

// ParseControl decodes one control record and validates its type tag.
func ParseControl(data []byte) (*ControlMessage, error) {
	var msg ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedControl, err)
	}

	switch msg.Type {
	case ControlHello:
	case ControlKey:
		if msg.Key == "" && msg.Code == "" {
			return nil, fmt.Errorf("%w: key event without key or code", ErrMalformedControl)
		}
	case ControlCommand:
		if msg.Command == "" {
			return nil, fmt.Errorf("%w: command message without command", ErrMalformedControl)
		}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedControl, msg.Type)
	}

	return &msg, nil
}

// KnownCommand reports whether name is part of the agreed vocabulary.
func KnownCommand(name string) bool {
	switch name {
	case CommandFire, CommandIce, CommandProjectile, CommandShield, CommandMagnify:
		return true
	}
	return false
}
