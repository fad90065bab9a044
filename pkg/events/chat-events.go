package events

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeRequestSent is published before the provider is called.
	EventTypeRequestSent EventType = "request-sent"
	// EventTypeRequestAccepted is published once the provider opened a stream.
	EventTypeRequestAccepted EventType = "request-accepted"
	// EventTypeRequestError is published when the provider refused the request.
	// No fragment follows it.
	EventTypeRequestError EventType = "request-error"
	// EventTypeStreamUpdate is published after a fragment was applied to the
	// conversation.
	EventTypeStreamUpdate EventType = "stream-update"
	// EventTypeStreamFinished terminates an accepted run.
	EventTypeStreamFinished EventType = "stream-finished"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta,omitempty"`

	// store payload if the event was deserialized from JSON (see NewEventFromJson), not further used
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) setSequence(sequence uint64) {
	e.Metadata_.Sequence = sequence
}

var _ Event = &EventImpl{}

type EventRequestSent struct {
	EventImpl
}

func NewRequestSentEvent(metadata EventMetadata) *EventRequestSent {
	return &EventRequestSent{
		EventImpl: EventImpl{
			Type_:     EventTypeRequestSent,
			Metadata_: metadata,
		},
	}
}

var _ Event = &EventRequestSent{}

type EventRequestAccepted struct {
	EventImpl
}

func NewRequestAcceptedEvent(metadata EventMetadata) *EventRequestAccepted {
	return &EventRequestAccepted{
		EventImpl: EventImpl{
			Type_:     EventTypeRequestAccepted,
			Metadata_: metadata,
		},
	}
}

var _ Event = &EventRequestAccepted{}

type EventRequestError struct {
	EventImpl
	Message string `json:"message"`
}

func NewRequestErrorEvent(metadata EventMetadata, err error) *EventRequestError {
	return &EventRequestError{
		EventImpl: EventImpl{
			Type_:     EventTypeRequestError,
			Metadata_: metadata,
		},
		Message: err.Error(),
	}
}

var _ Event = &EventRequestError{}

// EventStreamUpdate carries one fragment. Completion is the text of the
// target message after the fragment was applied.
type EventStreamUpdate struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewStreamUpdateEvent(metadata EventMetadata, delta string, completion string) *EventStreamUpdate {
	return &EventStreamUpdate{
		EventImpl: EventImpl{
			Type_:     EventTypeStreamUpdate,
			Metadata_: metadata,
		},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventStreamUpdate{}

// EventStreamFinished is the last event of an accepted run. Truncated is set
// when the stream failed midway, Error then holds the failure.
type EventStreamFinished struct {
	EventImpl
	Truncated bool   `json:"truncated,omitempty"`
	Error     string `json:"error,omitempty"`
}

func NewStreamFinishedEvent(metadata EventMetadata, err error) *EventStreamFinished {
	ret := &EventStreamFinished{
		EventImpl: EventImpl{
			Type_:     EventTypeStreamFinished,
			Metadata_: metadata,
		},
	}
	if err != nil {
		ret.Truncated = true
		ret.Error = err.Error()
	}
	return ret
}

var _ Event = &EventStreamFinished{}

// EventMetadata is passed along with every event of a generation run.
type EventMetadata struct {
	LLMInferenceData
	// ID identifies the event itself.
	ID uuid.UUID `json:"id" yaml:"id" mapstructure:"id"`
	// RunID is shared by all events of one generation run.
	RunID uuid.UUID `json:"run_id" yaml:"run_id" mapstructure:"run_id"`
	// MessageID is the conversation message the run streams into.
	MessageID uuid.UUID `json:"message_id" yaml:"message_id" mapstructure:"message_id"`
	// Sequence is assigned by the channel, in publish order.
	Sequence uint64                 `json:"sequence" yaml:"sequence" mapstructure:"sequence"`
	Extra    map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty" mapstructure:"extra"`
}

// WithNewID returns a copy of the metadata with a fresh event ID.
func (em EventMetadata) WithNewID() EventMetadata {
	em.ID = uuid.New()
	return em
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("id", em.ID.String())
	e.Str("run_id", em.RunID.String())
	e.Str("message_id", em.MessageID.String())
	e.Uint64("sequence", em.Sequence)
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.Temperature != nil {
		e.Float64("temperature", *em.Temperature)
	}
	if em.MaxTokens != nil {
		e.Int("max_tokens", *em.MaxTokens)
	}
	if em.Reasoning {
		e.Bool("reasoning", em.Reasoning)
	}
	if em.Usage != nil {
		e.Int("input_tokens", em.Usage.InputTokens)
		if em.Usage.OutputTokens > 0 {
			e.Int("output_tokens", em.Usage.OutputTokens)
		}
	}
	if em.DurationMs != nil {
		e.Int64("duration_ms", *em.DurationMs)
	}
	if len(em.Extra) > 0 {
		e.Dict("extra", zerolog.Dict().Fields(em.Extra))
	}
}

// Extra metadata keys
const (
	MetaKeyPromptTokens = "prompt_tokens"
	MetaKeyCharacter    = "character"
)

func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, fmt.Errorf("empty event payload")
	}

	e.payload = b

	var ret Event
	var ok bool
	switch e.Type_ {
	case EventTypeRequestSent:
		ret, ok = toTypedEvent[EventRequestSent](e)
	case EventTypeRequestAccepted:
		ret, ok = toTypedEvent[EventRequestAccepted](e)
	case EventTypeRequestError:
		ret, ok = toTypedEvent[EventRequestError](e)
	case EventTypeStreamUpdate:
		ret, ok = toTypedEvent[EventStreamUpdate](e)
	case EventTypeStreamFinished:
		ret, ok = toTypedEvent[EventStreamFinished](e)
	default:
		return nil, fmt.Errorf("unknown event type: %s", e.Type_)
	}
	if !ok {
		return nil, fmt.Errorf("could not cast event to %s", e.Type_)
	}
	return ret, nil
}

// toTypedEvent decodes the payload of e into T and keeps the payload on it.
func toTypedEvent[T any, PT interface {
	*T
	Event
	setPayload([]byte)
}](e Event) (Event, bool) {
	var ret PT = new(T)
	err := json.Unmarshal(e.Payload(), ret)
	if err != nil {
		return nil, false
	}
	ret.setPayload(e.Payload())
	return ret, true
}

func (e *EventImpl) setPayload(b []byte) {
	e.payload = b
}

func (e EventRequestError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("message", e.Message)
}

func (e EventStreamUpdate) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("delta", e.Delta)
	ev.Int("completion_length", len(e.Completion))
}

func (e EventStreamFinished) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Bool("truncated", e.Truncated)
	if e.Error != "" {
		ev.Str("error", e.Error)
	}
}
