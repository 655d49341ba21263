package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseControlHello(t *testing.T) {
	msg, err := ParseControl([]byte(`{"type":"hello"}`))
	require.NoError(t, err)
	require.Equal(t, ControlHello, msg.Type)
}

func TestParseControlKeyEvent(t *testing.T) {
	raw := `{"type":"key","key":"ArrowUp","code":"ArrowUp","altKey":false,"ctrlKey":false,"shiftKey":false,"metaKey":false,"timestamp":1000,"down":true}`

	msg, err := ParseControl([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, ControlKey, msg.Type)
	require.Equal(t, "ArrowUp", msg.Key)
	require.Equal(t, "ArrowUp", msg.Code)
	require.True(t, msg.Down)
	require.EqualValues(t, 1000, msg.Timestamp)
}

func TestParseControlCommand(t *testing.T) {
	msg, err := ParseControl([]byte(`{"type":"command","command":"fire"}`))
	require.NoError(t, err)
	require.Equal(t, ControlCommand, msg.Type)
	require.Equal(t, CommandFire, msg.Command)
}

func TestParseControlRejectsMalformed(t *testing.T) {
	cases := []string{
		`{`,
		`"just a string"`,
		`{"type":"teleport"}`,
		`{"type":"key"}`,
		`{"type":"command"}`,
		``,
	}
	for _, raw := range cases {
		_, err := ParseControl([]byte(raw))
		require.ErrorIs(t, err, ErrMalformedControl, "input %q", raw)
	}
}

func TestKnownCommand(t *testing.T) {
	for _, name := range []string{CommandFire, CommandIce, CommandProjectile, CommandShield, CommandMagnify} {
		require.True(t, KnownCommand(name))
	}
	require.False(t, KnownCommand("teleport"))
	require.False(t, KnownCommand(""))
}
