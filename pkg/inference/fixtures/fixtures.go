package fixtures

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/moon/pkg/inference/engine"
)

// Script describes the behavior of a ScriptedProvider for one request.
//
//	fragments: ["1", ", 2", ", 3"]
//	stream_error: "connection reset"   # fail after the fragments
//	request_error: "401 unauthorized"  # refuse the request instead
type Script struct {
	Fragments    []string      `yaml:"fragments,omitempty"`
	RequestError string        `yaml:"request_error,omitempty"`
	StreamError  string        `yaml:"stream_error,omitempty"`
	Delay        time.Duration `yaml:"delay,omitempty"`
}

// FixtureDoc is the on-disk form of a sequence of scripts, one per request.
type FixtureDoc struct {
	Version int      `yaml:"version,omitempty"`
	Scripts []Script `yaml:"scripts"`
}

// LoadFixture reads a FixtureDoc from a YAML file.
func LoadFixture(path string) (*FixtureDoc, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc FixtureDoc
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, errors.Wrapf(err, "could not parse fixture %s", path)
	}
	return &doc, nil
}

// ScriptedProvider replays scripts in order, one per ChatStream call. Once
// the scripts are exhausted the last one is repeated. Every request is
// recorded.
type ScriptedProvider struct {
	mu       sync.Mutex
	scripts  []Script
	next     int
	requests []engine.Request
	// gate, when set, is waited on before each fragment is produced
	gate chan struct{}
}

var _ engine.StreamingProvider = (*ScriptedProvider)(nil)

func NewScriptedProvider(scripts ...Script) *ScriptedProvider {
	return &ScriptedProvider{scripts: scripts}
}

func NewScriptedProviderFromFile(path string) (*ScriptedProvider, error) {
	doc, err := LoadFixture(path)
	if err != nil {
		return nil, err
	}
	return NewScriptedProvider(doc.Scripts...), nil
}

// WithGate makes every stream wait for a value on gate before producing a
// fragment, so tests can step through a run.
func (p *ScriptedProvider) WithGate(gate chan struct{}) *ScriptedProvider {
	p.gate = gate
	return p
}

// Requests returns the requests received so far.
func (p *ScriptedProvider) Requests() []engine.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]engine.Request{}, p.requests...)
}

func (p *ScriptedProvider) ChatStream(ctx context.Context, request engine.Request) (engine.Stream, error) {
	p.mu.Lock()
	p.requests = append(p.requests, request)
	script := Script{}
	if len(p.scripts) > 0 {
		idx := p.next
		if idx >= len(p.scripts) {
			idx = len(p.scripts) - 1
		}
		script = p.scripts[idx]
		p.next++
	}
	p.mu.Unlock()

	log.Debug().Int("fragments", len(script.Fragments)).Int("messages", len(request.Messages)).Msg("scripted request")

	if script.RequestError != "" {
		return nil, errors.New(script.RequestError)
	}
	return &scriptedStream{
		ctx:    ctx,
		script: script,
		gate:   p.gate,
	}, nil
}

type scriptedStream struct {
	ctx    context.Context
	script Script
	gate   chan struct{}
	idx    int
}

func (s *scriptedStream) Recv() (string, error) {
	if s.idx >= len(s.script.Fragments) {
		if s.script.StreamError != "" {
			return "", errors.New(s.script.StreamError)
		}
		return "", io.EOF
	}

	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}
	if s.script.Delay > 0 {
		select {
		case <-time.After(s.script.Delay):
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		}
	}

	fragment := s.script.Fragments[s.idx]
	s.idx++
	return fragment, nil
}

func (s *scriptedStream) Close() error {
	return nil
}
