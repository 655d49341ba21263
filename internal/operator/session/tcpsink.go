package session

import (
	"fmt"
	"net"
	"time"

	"gesture-bridge/internal/model"
)

const consumerDialTimeout = 500 * time.Millisecond

// TCPControlSink forwards each control record verbatim, newline
// terminated, to the local command consumer (the gesture application's
// input server). One short-lived connection per message keeps the
// consumer free to restart at any time; a failed dial just drops the
// message.
type TCPControlSink struct {
	Address string
}

func (t *TCPControlSink) ConsumeControl(_ *model.ControlMessage, raw []byte) error {
	conn, err := net.DialTimeout("tcp", t.Address, consumerDialTimeout)
	if err != nil {
		return fmt.Errorf("dialing command consumer: %w", err)
	}
	defer conn.Close()

	line := make([]byte, 0, len(raw)+1)
	line = append(line, raw...)
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		return fmt.Errorf("forwarding to command consumer: %w", err)
	}
	return nil
}
