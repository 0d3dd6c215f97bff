package streaming

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"bundlerelay/internal/domain"
)

type MessageType string

const (
	MessageTypeBundleEvent MessageType = "bundle_event"
)

// Message is the wire envelope for bundle lifecycle events.
type Message struct {
	Type        MessageType      `json:"type"`
	ChainID     uint64           `json:"chain_id"`
	TraceID     string           `json:"trace_id,omitempty"`
	AttemptID   string           `json:"attempt_id"`
	Key         string           `json:"key,omitempty"`
	Event       domain.EventType `json:"event"`
	Status      string           `json:"status"`
	TargetBlock uint64           `json:"target_block,omitempty"`
	Attempt     int              `json:"attempt,omitempty"`
	BundleHash  string           `json:"bundle_hash,omitempty"`
	Message     string           `json:"message,omitempty"`
	OccurredAt  time.Time        `json:"occurred_at"`
}

func FromEvent(event domain.BundleEvent, traceID string) Message {
	return Message{
		Type:        MessageTypeBundleEvent,
		ChainID:     event.ChainID,
		TraceID:     traceID,
		AttemptID:   event.AttemptID,
		Key:         event.Key,
		Event:       event.Type,
		Status:      string(event.Status),
		TargetBlock: event.TargetBlock,
		Attempt:     event.Attempt,
		BundleHash:  event.BundleHash,
		Message:     event.Message,
		OccurredAt:  event.OccurredAt,
	}
}

// ToEvent maps the wire message back onto a domain event.
func (m Message) ToEvent() domain.BundleEvent {
	return domain.BundleEvent{
		AttemptID:   m.AttemptID,
		Key:         m.Key,
		ChainID:     m.ChainID,
		Type:        m.Event,
		Status:      domain.BundleStatus(m.Status),
		TargetBlock: m.TargetBlock,
		Attempt:     m.Attempt,
		BundleHash:  m.BundleHash,
		Message:     m.Message,
		OccurredAt:  m.OccurredAt,
	}
}

func validate(msg Message) error {
	if msg.Type == "" {
		return errors.New("message type is required")
	}
	if msg.ChainID == 0 {
		return errors.New("chain_id is required")
	}
	if msg.AttemptID == "" {
		return errors.New("attempt_id is required")
	}
	if msg.Event == "" {
		return errors.New("event is required")
	}
	return nil
}

func Encode(msg Message) ([]byte, error) {
	if err := validate(msg); err != nil {
		return nil, err
	}
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, errors.Wrap(err, "decode bundle event")
	}
	if err := validate(msg); err != nil {
		return Message{}, err
	}
	return msg, nil
}
