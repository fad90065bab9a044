package fixtures

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/moon/pkg/inference/engine"
)

func drain(t *testing.T, s engine.Stream) ([]string, error) {
	t.Helper()
	ret := []string{}
	for {
		f, err := s.Recv()
		if err != nil {
			if err == io.EOF {
				return ret, nil
			}
			return ret, err
		}
		ret = append(ret, f)
	}
}

func TestScriptedProvider(t *testing.T) {
	p := NewScriptedProvider(
		Script{Fragments: []string{"1", ", 2", ", 3"}},
		Script{RequestError: "401 unauthorized"},
		Script{Fragments: []string{"partial"}, StreamError: "connection reset"},
	)
	ctx := context.Background()
	req := engine.Request{Messages: []engine.Message{{Role: engine.RoleUser, Content: "Count to 3"}}}

	s, err := p.ChatStream(ctx, req)
	require.NoError(t, err)
	fragments, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, "1, 2, 3", strings.Join(fragments, ""))

	_, err = p.ChatStream(ctx, req)
	assert.EqualError(t, err, "401 unauthorized")

	s, err = p.ChatStream(ctx, req)
	require.NoError(t, err)
	fragments, err = drain(t, s)
	assert.EqualError(t, err, "connection reset")
	assert.Equal(t, []string{"partial"}, fragments)

	// the last script repeats
	_, err = p.ChatStream(ctx, req)
	require.NoError(t, err)
	assert.Len(t, p.Requests(), 4)
}

func TestLoadFixture(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fixture.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
version: 1
scripts:
  - fragments: ["Hello", " there"]
    delay: 1ms
  - request_error: "rate limited"
`), 0644))

	p, err := NewScriptedProviderFromFile(path)
	require.NoError(t, err)

	s, err := p.ChatStream(context.Background(), engine.Request{})
	require.NoError(t, err)
	fragments, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"Hello", " there"}, fragments)

	_, err = p.ChatStream(context.Background(), engine.Request{})
	assert.EqualError(t, err, "rate limited")
}

func TestScriptedProviderGate(t *testing.T) {
	gate := make(chan struct{})
	p := NewScriptedProvider(Script{Fragments: []string{"a", "b"}}).WithGate(gate)

	s, err := p.ChatStream(context.Background(), engine.Request{})
	require.NoError(t, err)

	received := make(chan string, 2)
	go func() {
		for {
			f, err := s.Recv()
			if err != nil {
				close(received)
				return
			}
			received <- f
		}
	}()

	select {
	case f := <-received:
		t.Fatalf("fragment %q produced before the gate opened", f)
	case <-time.After(50 * time.Millisecond):
	}
	gate <- struct{}{}
	assert.Equal(t, "a", <-received)
	gate <- struct{}{}
	assert.Equal(t, "b", <-received)
	_, ok := <-received
	assert.False(t, ok)
}

func TestEchoProvider(t *testing.T) {
	p := &EchoProvider{TimePerCharacter: time.Millisecond}

	s, err := p.ChatStream(context.Background(), engine.Request{Messages: []engine.Message{
		{Role: engine.RoleUser, Content: "first"},
		{Role: engine.RoleAssistant, Content: "reply"},
		{Role: engine.RoleUser, Content: "héllo"},
		{Role: engine.RoleAssistant, Content: ""},
	}})
	require.NoError(t, err)
	fragments, err := drain(t, s)
	require.NoError(t, err)
	assert.Equal(t, []string{"h", "é", "l", "l", "o"}, fragments)

	_, err = p.ChatStream(context.Background(), engine.Request{})
	assert.Error(t, err)
}

func TestDiskTap(t *testing.T) {
	dir := t.TempDir()
	tap, err := NewDiskTap(dir, 2)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, "https://openrouter.ai/api/v1/chat/completions", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	tap.OnHTTP(req, []byte(`{"model":"m"}`))
	tap.OnFragment("1")
	tap.OnFragment(", 2")
	tap.Close()

	b, err := os.ReadFile(filepath.Join(dir, "run-2-http-request.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(b), "secret")
	assert.Contains(t, string(b), `"model": "m"`)

	b, err = os.ReadFile(filepath.Join(dir, "run-2-fragments.ndjson"))
	require.NoError(t, err)
	assert.Equal(t, "\"1\"\n\", 2\"\n", string(b))
}
