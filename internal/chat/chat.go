// Package chat fans chat lines out to every connected session.
package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/leozinhoszg/zerion/internal/protocol"
)

// ErrUnsupportedChannel is returned for any channel but global.
var ErrUnsupportedChannel = errors.New("unsupported chat channel")

// Message is one relayed chat line.
type Message struct {
	Channel string `msgpack:"channel"`
	From    string `msgpack:"from"`
	Msg     string `msgpack:"msg"`
	TS      uint64 `msgpack:"ts"`
}

// Event converts m to the payload of an event frame.
func (m Message) Event() protocol.EventPayload {
	return protocol.EventPayload{
		Type:    protocol.EventMessage,
		Channel: m.Channel,
		From:    m.From,
		Msg:     m.Msg,
		TS:      m.TS,
	}
}

// Broker publishes messages and hands out subscriptions.
type Broker interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers messages of one channel until closed.
type Subscription interface {
	C() <-chan Message
	Close() error
}

func checkChannel(channel string) error {
	if channel != protocol.ChannelGlobal {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, channel)
	}
	return nil
}

// encode packs m as msgpack and wraps it in base64 so it fits a text payload.
func encode(m Message) (string, error) {
	raw, err := msgpack.Marshal(&m)
	if err != nil {
		return "", fmt.Errorf("encoding chat message: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func decode(s string) (Message, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Message{}, fmt.Errorf("decoding chat message: %w", err)
	}
	var m Message
	if err := msgpack.Unmarshal(raw, &m); err != nil {
		return Message{}, fmt.Errorf("decoding chat message: %w", err)
	}
	return m, nil
}
