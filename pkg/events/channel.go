package events

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/moon/pkg/helpers"
)

const (
	DefaultTopic      = "chat"
	DefaultBufferSize = 10

	sequenceMetadataKey = "sequence_number"
)

var ErrChannelClosed = errors.New("notification channel closed")

// Channel distributes the events of a chat to its observers.
//
// It is backed by a watermill gochannel pub/sub that blocks every publish
// until all subscribers acknowledged the message. A subscription only
// acknowledges once the event fits into its buffer, so a slow observer
// slows down the publisher instead of losing events. Events are numbered in
// the order they are handled by Publish.
type Channel struct {
	logger     watermill.LoggerAdapter
	topic      string
	bufferSize int
	pubSub     *gochannel.GoChannel

	// serializes publishing and guards sequence
	mutex    sync.Mutex
	sequence uint64

	closeOnce sync.Once
	closed    chan struct{}
}

type ChannelOption func(*Channel)

func WithLogger(logger watermill.LoggerAdapter) ChannelOption {
	return func(c *Channel) {
		c.logger = logger
	}
}

// WithVerbose routes watermill's own logging to the global zerolog logger.
func WithVerbose(verbose bool) ChannelOption {
	return func(c *Channel) {
		if verbose {
			c.logger = helpers.NewWatermill(log.Logger)
		}
	}
}

func WithTopic(topic string) ChannelOption {
	return func(c *Channel) {
		c.topic = topic
	}
}

// WithBufferSize sets how many events a subscription holds before publishing
// blocks.
func WithBufferSize(size int) ChannelOption {
	return func(c *Channel) {
		if size > 0 {
			c.bufferSize = size
		}
	}
}

func NewChannel(options ...ChannelOption) *Channel {
	ret := &Channel{
		logger:     watermill.NopLogger{},
		topic:      DefaultTopic,
		bufferSize: DefaultBufferSize,
		closed:     make(chan struct{}),
	}

	for _, o := range options {
		o(ret)
	}

	ret.pubSub = gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)

	return ret
}

// Publish stamps the next sequence number on e and hands it to every
// subscriber, blocking until all of them took it. Without subscribers the
// event is dropped.
func (c *Channel) Publish(e Event) error {
	select {
	case <-c.closed:
		return ErrChannelClosed
	default:
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if s, ok := e.(interface{ setSequence(uint64) }); ok {
		s.setSequence(c.sequence)
	}

	b, err := json.Marshal(e)
	if err != nil {
		return errors.Wrapf(err, "could not marshal %s event", e.Type())
	}

	msg := message.NewMessage(watermill.NewUUID(), b)
	msg.Metadata.Set(sequenceMetadataKey, strconv.FormatUint(c.sequence, 10))
	c.sequence++

	if err := c.pubSub.Publish(c.topic, msg); err != nil {
		return errors.Wrapf(err, "could not publish %s event", e.Type())
	}
	return nil
}

// PublishBlind publishes e and only logs failures.
func (c *Channel) PublishBlind(e Event) {
	if err := c.Publish(e); err != nil {
		log.Warn().Err(err).Str("event_type", string(e.Type())).Msg("failed to publish")
	}
}

// Subscribe starts observing the channel. The subscription ends when ctx is
// cancelled, when it is closed, or when the channel is closed.
func (c *Channel) Subscribe(ctx context.Context) (*Subscription, error) {
	select {
	case <-c.closed:
		return nil, ErrChannelClosed
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	messages, err := c.pubSub.Subscribe(ctx, c.topic)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "could not subscribe")
	}

	ret := &Subscription{
		events: make(chan Event, c.bufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go ret.run(ctx, messages)

	return ret, nil
}

// Close ends all subscriptions. Publishing afterwards fails with
// ErrChannelClosed.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		log.Debug().Msg("Closing notification channel")
		err = c.pubSub.Close()
		if err != nil {
			log.Error().Err(err).Msg("Failed to close pubsub")
		}
	})
	return err
}

// Subscription is a single observer of a Channel.
type Subscription struct {
	events chan Event
	cancel context.CancelFunc
	done   chan struct{}
}

// Events returns the ordered events of the subscription. The channel is
// closed when the subscription ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close stops observing. Events already buffered remain readable.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

func (s *Subscription) run(ctx context.Context, messages <-chan *message.Message) {
	defer close(s.done)
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			e, err := NewEventFromJson(msg.Payload)
			if err != nil {
				log.Error().Err(err).Str("message_id", msg.UUID).Msg("Failed to parse event from message payload")
				msg.Ack()
				continue
			}

			select {
			case s.events <- e:
				msg.Ack()
			case <-ctx.Done():
				msg.Ack()
				return
			}
		}
	}
}
