package bus

import (
	"context"
	"encoding/json"
)

// Message is one event published on a named channel, e.g. "job:<id>".
type Message struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Data    json.RawMessage `json:"data"`
}

// NewMessage marshals data into a Message.
func NewMessage(channel, event string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, err
	}
	return Message{Channel: channel, Event: event, Data: raw}, nil
}

// Bus fans messages out to subscribers of a channel. Subscribe returns a
// receive channel that is closed when ctx ends or cancel is called.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error)
	Close() error
}
