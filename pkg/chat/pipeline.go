package chat

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tiktoken-go/tokenizer"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/moon/pkg/conversation"
	"github.com/go-go-golems/moon/pkg/events"
	"github.com/go-go-golems/moon/pkg/helpers"
	"github.com/go-go-golems/moon/pkg/inference/engine"
	"github.com/go-go-golems/moon/pkg/inference/fixtures"
	"github.com/go-go-golems/moon/pkg/persona"
	"github.com/go-go-golems/moon/pkg/steps/ai/settings"
)

// ErrTargetRemoved is reported for runs whose message was removed before
// the run started.
var ErrTargetRemoved = errors.New("target message removed")

// Pipeline generates character messages. Every Trigger starts a detached
// run that streams the provider's answer into the target message and
// reports its progress on the channel.
//
// Runs are executed one after the other, in the order they were triggered.
type Pipeline struct {
	store     conversation.Manager
	channel   *events.Channel
	user      persona.Persona
	character persona.Persona

	// guards provider, settings, last and runs
	mu       sync.Mutex
	provider engine.StreamingProvider
	settings *settings.Settings
	// closed when the most recently triggered run is done
	last chan struct{}
	runs int

	eg          errgroup.Group
	codec       tokenizer.Codec
	debugTapDir string
}

func NewPipeline(
	store conversation.Manager,
	channel *events.Channel,
	user persona.Persona,
	character persona.Persona,
	provider engine.StreamingProvider,
	s *settings.Settings,
) *Pipeline {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		log.Warn().Err(err).Msg("could not load tokenizer, prompt tokens are not counted")
		codec = nil
	}

	return &Pipeline{
		store:     store,
		channel:   channel,
		user:      user,
		character: character,
		provider:  provider,
		settings:  s.Clone(),
		codec:     codec,
	}
}

// SetProvider replaces the provider and settings used by runs triggered
// from now on.
func (p *Pipeline) SetProvider(provider engine.StreamingProvider, s *settings.Settings) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.provider = provider
	p.settings = s.Clone()
}

// SystemPrompt frames the conversation as a story between the user and the
// character.
func (p *Pipeline) SystemPrompt() string {
	userName := p.user.Name()
	return fmt.Sprintf(
		"Write a story between %s and %s. Do not speak or impersonate %s.\n%s\nStory start:\n",
		userName, p.character.Name(), userName, p.character.SystemPrompt(userName),
	)
}

// Trigger queues a run generating the message with the given ID. It
// returns immediately.
func (p *Pipeline) Trigger(target conversation.NodeID) {
	p.mu.Lock()
	previous := p.last
	done := make(chan struct{})
	p.last = done
	p.runs++
	runIndex := p.runs
	provider, s := p.provider, p.settings
	p.mu.Unlock()

	log.Debug().Str("target", target.String()).Int("run", runIndex).Msg("run queued")

	p.eg.Go(func() error {
		defer close(done)
		if previous != nil {
			<-previous
		}
		p.run(target, runIndex, provider, s)
		return nil
	})
}

// Wait blocks until the runs triggered before the call are done. It may
// overlap with Trigger; runs triggered meanwhile are not waited for.
func (p *Pipeline) Wait() {
	p.mu.Lock()
	last := p.last
	p.mu.Unlock()

	if last != nil {
		<-last
	}
}

// Drain waits for every run goroutine to exit. Trigger must not be called
// during or after Drain.
func (p *Pipeline) Drain() {
	_ = p.eg.Wait()
}

func (p *Pipeline) countTokens(texts ...string) int {
	if p.codec == nil {
		return 0
	}
	ret := 0
	for _, t := range texts {
		ids, _, err := p.codec.Encode(t)
		if err != nil {
			log.Debug().Err(err).Msg("could not count tokens")
			continue
		}
		ret += len(ids)
	}
	return ret
}

func (p *Pipeline) request(history []conversation.Message) engine.Request {
	ret := engine.Request{
		SystemPrompt: p.SystemPrompt(),
		Messages:     make([]engine.Message, 0, len(history)),
	}
	for _, msg := range history {
		role := engine.RoleUser
		if msg.Role() == conversation.RoleAssistant {
			role = engine.RoleAssistant
		}
		ret.Messages = append(ret.Messages, engine.Message{Role: role, Content: msg.Text})
	}
	return ret
}

func (p *Pipeline) metadata(target conversation.NodeID, s *settings.Settings, promptTokens int) events.EventMetadata {
	return events.EventMetadata{
		LLMInferenceData: events.LLMInferenceData{
			Model:       s.Model,
			Temperature: helpers.Ptr(s.Temperature),
			MaxTokens:   helpers.Ptr(s.MaxTokens),
			Reasoning:   s.Reasoning,
			Usage:       &events.Usage{InputTokens: promptTokens},
		},
		RunID:     uuid.New(),
		MessageID: uuid.UUID(target),
		Extra: map[string]interface{}{
			events.MetaKeyCharacter:    p.character.Name(),
			events.MetaKeyPromptTokens: promptTokens,
		},
	}
}

func (p *Pipeline) debugContext(ctx context.Context, runIndex int) (context.Context, func()) {
	if p.debugTapDir == "" {
		return ctx, func() {}
	}
	tap, err := fixtures.NewDiskTap(p.debugTapDir, runIndex)
	if err != nil {
		log.Warn().Err(err).Str("dir", p.debugTapDir).Msg("could not create debug tap")
		return ctx, func() {}
	}
	return engine.WithDebugTap(ctx, tap), tap.Close
}

func (p *Pipeline) run(target conversation.NodeID, runIndex int, provider engine.StreamingProvider, s *settings.Settings) {
	history, ok := p.store.Lineage(target)
	if !ok {
		// removed while the run was queued
		metadata := p.metadata(target, s, 0)
		log.Warn().Str("target", target.String()).Msg("target message is gone, skipping run")
		p.channel.PublishBlind(events.NewRequestSentEvent(metadata.WithNewID()))
		p.channel.PublishBlind(events.NewRequestErrorEvent(metadata.WithNewID(), ErrTargetRemoved))
		return
	}

	request := p.request(history)
	texts := []string{request.SystemPrompt}
	for _, m := range request.Messages {
		texts = append(texts, m.Content)
	}
	metadata := p.metadata(target, s, p.countTokens(texts...))

	ctx, closeTap := p.debugContext(context.Background(), runIndex)
	defer closeTap()

	log.Debug().
		Str("run_id", metadata.RunID.String()).
		Int("messages", len(request.Messages)).
		Msg("sending request")
	p.channel.PublishBlind(events.NewRequestSentEvent(metadata.WithNewID()))

	start := time.Now()
	stream, err := provider.ChatStream(ctx, request)
	if err != nil {
		log.Error().Err(err).Str("run_id", metadata.RunID.String()).Msg("request failed")
		p.channel.PublishBlind(events.NewRequestErrorEvent(metadata.WithNewID(), err))
		return
	}
	defer func() {
		_ = stream.Close()
	}()
	p.channel.PublishBlind(events.NewRequestAcceptedEvent(metadata.WithNewID()))

	completion := ""
	dropped := 0
	for {
		fragment, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			} else {
				log.Error().Err(err).Str("run_id", metadata.RunID.String()).Msg("stream failed")
			}

			duration := time.Since(start).Milliseconds()
			metadata.DurationMs = &duration
			metadata.Usage = &events.Usage{
				InputTokens:  metadata.Usage.InputTokens,
				OutputTokens: p.countTokens(completion),
			}
			log.Debug().
				Str("run_id", metadata.RunID.String()).
				Int64("duration_ms", duration).
				Int("dropped", dropped).
				Msg("stream finished")
			p.channel.PublishBlind(events.NewStreamFinishedEvent(metadata.WithNewID(), err))
			return
		}

		if !p.store.AppendFragment(target, fragment) {
			// the message was removed while generating
			dropped++
			continue
		}
		completion += fragment
		p.channel.PublishBlind(events.NewStreamUpdateEvent(metadata.WithNewID(), fragment, completion))
	}
}
