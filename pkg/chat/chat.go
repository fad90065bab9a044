// Package chat ties a conversation between a user and a character to a
// streaming provider.
package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/moon/pkg/conversation"
	"github.com/go-go-golems/moon/pkg/events"
	"github.com/go-go-golems/moon/pkg/inference/engine"
	"github.com/go-go-golems/moon/pkg/persona"
	"github.com/go-go-golems/moon/pkg/steps/ai/openai"
	"github.com/go-go-golems/moon/pkg/steps/ai/settings"
)

var ErrChatClosed = errors.New("chat closed")

// ProviderFactory creates the provider for the given settings.
type ProviderFactory func(s *settings.Settings) (engine.StreamingProvider, error)

// OpenAIProviderFactory creates providers talking to an OpenAI compatible
// API.
func OpenAIProviderFactory(s *settings.Settings) (engine.StreamingProvider, error) {
	return openai.NewOpenAIEngine(s)
}

// Chat is a conversation between the user and a character. Mutations that
// leave an empty character message behind trigger its generation, whose
// progress is published to the subscribers.
type Chat struct {
	user      *persona.Profile
	character *persona.Profile
	store     *conversation.Store
	channel   *events.Channel
	pipeline  *Pipeline

	// held for reading by every mutation, for writing by Close
	mu       sync.RWMutex
	closed   bool
	settings *settings.Settings
	factory  ProviderFactory
}

type chatConfig struct {
	provider       engine.StreamingProvider
	factory        ProviderFactory
	channelOptions []events.ChannelOption
	debugTapDir    string
}

type Option func(*chatConfig)

// WithProvider uses provider for every run, whatever the settings.
func WithProvider(provider engine.StreamingProvider) Option {
	return func(c *chatConfig) {
		c.provider = provider
	}
}

// WithProviderFactory builds the provider from the settings, on creation
// and on every SetSettings. Defaults to OpenAIProviderFactory.
func WithProviderFactory(factory ProviderFactory) Option {
	return func(c *chatConfig) {
		c.factory = factory
	}
}

func WithChannelOptions(options ...events.ChannelOption) Option {
	return func(c *chatConfig) {
		c.channelOptions = append(c.channelOptions, options...)
	}
}

// WithDebugTapDir records the raw provider traffic of every run in dir.
func WithDebugTapDir(dir string) Option {
	return func(c *chatConfig) {
		c.debugTapDir = dir
	}
}

func NewChat(user, character *persona.Profile, s *settings.Settings, options ...Option) (*Chat, error) {
	config := &chatConfig{
		factory: OpenAIProviderFactory,
	}
	for _, o := range options {
		o(config)
	}

	provider := config.provider
	factory := config.factory
	if provider == nil {
		var err error
		provider, err = factory(s)
		if err != nil {
			return nil, errors.Wrap(err, "could not create provider")
		}
	} else {
		factory = func(*settings.Settings) (engine.StreamingProvider, error) {
			return config.provider, nil
		}
	}

	store := conversation.NewStore(character.Greetings(user.Name()))
	channel := events.NewChannel(config.channelOptions...)
	pipeline := NewPipeline(store, channel, user, character, provider, s)
	pipeline.debugTapDir = config.debugTapDir

	log.Debug().
		Str("user", user.Name()).
		Str("character", character.Name()).
		Str("model", s.Model).
		Msg("chat created")

	return &Chat{
		user:      user,
		character: character,
		store:     store,
		channel:   channel,
		pipeline:  pipeline,
		settings:  s.Clone(),
		factory:   factory,
	}, nil
}

// Title names the chat after its participants.
func (c *Chat) Title() string {
	return fmt.Sprintf("%s's chat with %s", c.user.Name(), c.character.Name())
}

func (c *Chat) User() *persona.Profile {
	return c.user
}

func (c *Chat) Character() *persona.Profile {
	return c.character
}

// OwnerName returns the name of the participant who said msg.
func (c *Chat) OwnerName(msg conversation.Message) string {
	if msg.Owner.IsUser() {
		return c.user.Name()
	}
	return c.character.Name()
}

// Settings returns a copy of the current settings.
func (c *Chat) Settings() *settings.Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings.Clone()
}

// SetSettings replaces the settings for the runs triggered from now on.
func (c *Chat) SetSettings(s *settings.Settings) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChatClosed
	}

	provider, err := c.factory(s)
	if err != nil {
		return errors.Wrap(err, "could not create provider")
	}
	c.settings = s.Clone()
	c.pipeline.SetProvider(provider, s)
	log.Debug().Str("model", s.Model).Msg("settings changed")
	return nil
}

// SystemPrompt is the prompt every run starts with.
func (c *Chat) SystemPrompt() string {
	return c.pipeline.SystemPrompt()
}

// mutate runs f unless the chat is closed and triggers the generation of
// the message f returns, if any.
func (c *Chat) mutate(f func() (conversation.NodeID, bool, error)) (conversation.NodeID, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return conversation.NullNode, false, ErrChatClosed
	}

	id, generate, err := f()
	if err != nil {
		return conversation.NullNode, false, err
	}
	if generate {
		c.pipeline.Trigger(id)
	}
	return id, generate, nil
}

// AppendUserTurn adds text as the user's turn and generates the
// character's answer. A blank text lets the character continue. The ID of
// the answer is returned.
func (c *Chat) AppendUserTurn(text string) (conversation.NodeID, error) {
	id, _, err := c.mutate(func() (conversation.NodeID, bool, error) {
		id, err := c.store.AppendUserTurn(text)
		return id, err == nil, err
	})
	return id, err
}

// Advance selects the next alternative at depth. Past the last alternative
// a new one is generated and its ID returned with true.
func (c *Chat) Advance(depth int) (conversation.NodeID, bool, error) {
	return c.mutate(func() (conversation.NodeID, bool, error) {
		return c.store.Advance(depth)
	})
}

func (c *Chat) Retreat(depth int) error {
	_, _, err := c.mutate(func() (conversation.NodeID, bool, error) {
		return conversation.NullNode, false, c.store.Retreat(depth)
	})
	return err
}

// Edit replaces the message at depth with a new alternative. Editing a
// user message generates a new answer, whose ID is returned with true.
func (c *Chat) Edit(depth int, text string) (conversation.NodeID, bool, error) {
	return c.mutate(func() (conversation.NodeID, bool, error) {
		return c.store.Edit(depth, text)
	})
}

func (c *Chat) Remove(depth int) error {
	_, _, err := c.mutate(func() (conversation.NodeID, bool, error) {
		return conversation.NullNode, false, c.store.Remove(depth)
	})
	return err
}

func (c *Chat) History() []conversation.Message {
	return c.store.History()
}

func (c *Chat) HistoryStructure() []conversation.Position {
	return c.store.HistoryStructure()
}

// Message returns the current state of a single message.
func (c *Chat) Message(id conversation.NodeID) (conversation.Message, bool) {
	return c.store.Message(id)
}

// Subscribe observes the events of all runs of the chat.
func (c *Chat) Subscribe(ctx context.Context) (*events.Subscription, error) {
	return c.channel.Subscribe(ctx)
}

// Wait blocks until all runs triggered so far are done. It may be called
// while other goroutines keep mutating the chat.
func (c *Chat) Wait() {
	c.pipeline.Wait()
}

// Close waits for the running generations and ends all subscriptions.
// Subscribers have to keep reading until then.
func (c *Chat) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	// no mutation is in flight anymore, nothing triggers new runs
	c.pipeline.Drain()
	return c.channel.Close()
}
