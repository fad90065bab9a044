package fixtures

import (
	"context"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/go-go-golems/moon/pkg/inference/engine"
)

// EchoProvider answers every request by streaming back the last user
// message, one character at a time.
type EchoProvider struct {
	TimePerCharacter time.Duration
}

var _ engine.StreamingProvider = (*EchoProvider)(nil)

func NewEchoProvider() *EchoProvider {
	return &EchoProvider{
		TimePerCharacter: 20 * time.Millisecond,
	}
}

func (e *EchoProvider) ChatStream(ctx context.Context, request engine.Request) (engine.Stream, error) {
	for i := len(request.Messages) - 1; i >= 0; i-- {
		if request.Messages[i].Role == engine.RoleUser {
			return &echoStream{
				ctx:   ctx,
				text:  []rune(request.Messages[i].Content),
				delay: e.TimePerCharacter,
			}, nil
		}
	}
	return nil, errors.New("no user message to echo")
}

type echoStream struct {
	ctx   context.Context
	text  []rune
	idx   int
	delay time.Duration
}

func (s *echoStream) Recv() (string, error) {
	if s.idx >= len(s.text) {
		return "", io.EOF
	}
	select {
	case <-s.ctx.Done():
		return "", s.ctx.Err()
	case <-time.After(s.delay):
	}
	c := s.text[s.idx]
	s.idx++
	return string(c), nil
}

func (s *echoStream) Close() error {
	return nil
}
