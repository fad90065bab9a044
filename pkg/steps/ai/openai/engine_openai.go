package openai

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/moon/pkg/inference/engine"
	"github.com/go-go-golems/moon/pkg/steps/ai/settings"
)

// OpenAIEngine streams chat completions from an OpenAI compatible API,
// OpenRouter by default.
type OpenAIEngine struct {
	settings *settings.Settings
	client   *go_openai.Client
}

var _ engine.StreamingProvider = (*OpenAIEngine)(nil)

// NewOpenAIEngine creates an engine for the given settings. The settings are
// copied, later changes to s have no effect.
func NewOpenAIEngine(s *settings.Settings) (*OpenAIEngine, error) {
	if err := s.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid settings")
	}

	s = s.Clone()
	client, err := MakeClient(s)
	if err != nil {
		return nil, err
	}

	return &OpenAIEngine{
		settings: s,
		client:   client,
	}, nil
}

func (e *OpenAIEngine) ChatStream(ctx context.Context, request engine.Request) (engine.Stream, error) {
	req := MakeCompletionRequest(e.settings, request)
	log.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Bool("reasoning", e.settings.Reasoning).
		Msg("OpenAI streaming request")

	stream, err := e.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("OpenAI streaming request failed")
		return nil, err
	}

	tap, _ := engine.DebugTapFrom(ctx)
	return &openAIStream{
		stream: stream,
		tap:    tap,
	}, nil
}

type openAIStream struct {
	stream *go_openai.ChatCompletionStream
	tap    engine.DebugTap
	chunks int
}

// Recv skips chunks without text, such as role announcements or the final
// chunk carrying only the finish reason.
func (s *openAIStream) Recv() (string, error) {
	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			log.Debug().Int("chunks_received", s.chunks).Msg("OpenAI stream completed")
			return "", io.EOF
		}
		if err != nil {
			log.Error().Err(err).Int("chunks_received", s.chunks).Msg("OpenAI stream receive failed")
			return "", err
		}
		s.chunks++

		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if s.tap != nil {
			s.tap.OnFragment(delta)
		}
		log.Trace().Int("chunk", s.chunks).Str("delta", delta).Msg("OpenAI received chunk")
		return delta, nil
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
