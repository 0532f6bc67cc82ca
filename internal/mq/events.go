package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jjudge-oj/authserver/types"
)

const contentTypeJSON = "application/json"

// Publisher is the send side of a broker.
type Publisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// UserEvents publishes user lifecycle events as JSON on one channel.
type UserEvents struct {
	publisher Publisher
	channel   string
}

func NewUserEvents(publisher Publisher, channel string) *UserEvents {
	return &UserEvents{publisher: publisher, channel: channel}
}

func (e *UserEvents) PublishUserEvent(ctx context.Context, event types.UserEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode user event: %w", err)
	}
	attrs := map[string]string{
		AttrType:        string(event.Type),
		AttrContentType: contentTypeJSON,
	}
	if _, err := e.publisher.Publish(ctx, e.channel, data, attrs); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// DecodeUserEvent parses a message produced by PublishUserEvent.
func DecodeUserEvent(msg Message) (types.UserEvent, error) {
	var event types.UserEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return types.UserEvent{}, fmt.Errorf("decode user event: %w", err)
	}
	if event.Type == "" || event.UserID == "" {
		return types.UserEvent{}, errors.New("decode user event: missing type or user id")
	}
	return event, nil
}
