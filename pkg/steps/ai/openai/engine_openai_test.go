package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/moon/pkg/inference/engine"
	"github.com/go-go-golems/moon/pkg/steps/ai/settings"
)

type recordedRequest struct {
	Header http.Header
	Body   map[string]interface{}
}

type sseServer struct {
	*httptest.Server
	mu       sync.Mutex
	requests []recordedRequest
}

func chunk(content string) string {
	b, _ := json.Marshal(map[string]interface{}{
		"id":      "gen-1",
		"object":  "chat.completion.chunk",
		"created": 1,
		"model":   "google/gemma-3-27b-it",
		"choices": []map[string]interface{}{
			{"index": 0, "delta": map[string]interface{}{"content": content}},
		},
	})
	return "data: " + string(b) + "\n\n"
}

// newSSEServer answers chat completions with the given fragments. With
// status != 200 the request is refused.
func newSSEServer(t *testing.T, status int, fragments []string, done bool) *sseServer {
	ret := &sseServer{}
	ret.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		body := map[string]interface{}{}
		require.NoError(t, json.Unmarshal(b, &body))

		ret.mu.Lock()
		ret.requests = append(ret.requests, recordedRequest{Header: r.Header.Clone(), Body: body})
		ret.mu.Unlock()

		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"auth","code":"401"}}`)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = fmt.Fprint(w, chunk(""))
		for _, f := range fragments {
			_, _ = fmt.Fprint(w, chunk(f))
			w.(http.Flusher).Flush()
		}
		if done {
			_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		}
	}))
	t.Cleanup(ret.Close)
	return ret
}

func (s *sseServer) Requests() []recordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedRequest{}, s.requests...)
}

func testSettings(baseURL string) *settings.Settings {
	s := settings.NewSettings()
	s.APIKey = "sk-test"
	s.BaseURL = baseURL
	return s
}

func collect(t *testing.T, s engine.Stream) ([]string, error) {
	t.Helper()
	defer func() { _ = s.Close() }()
	ret := []string{}
	for {
		f, err := s.Recv()
		if err == io.EOF {
			return ret, nil
		}
		if err != nil {
			return ret, err
		}
		ret = append(ret, f)
	}
}

var countRequest = engine.Request{
	SystemPrompt: "Write a story between User and Luna.",
	Messages: []engine.Message{
		{Role: engine.RoleAssistant, Content: "Hi"},
		{Role: engine.RoleUser, Content: "Count to 3"},
	},
}

func TestChatStream(t *testing.T) {
	srv := newSSEServer(t, http.StatusOK, []string{"1", ", 2", ", 3"}, true)

	e, err := NewOpenAIEngine(testSettings(srv.URL))
	require.NoError(t, err)

	stream, err := e.ChatStream(context.Background(), countRequest)
	require.NoError(t, err)
	fragments, err := collect(t, stream)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", ", 2", ", 3"}, fragments)

	requests := srv.Requests()
	require.Len(t, requests, 1)
	r := requests[0]
	assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
	assert.Equal(t, "moon", r.Header.Get("X-Title"))
	assert.Equal(t, "google/gemma-3-27b-it", r.Body["model"])
	assert.Equal(t, true, r.Body["stream"])
	assert.EqualValues(t, 1000, r.Body["max_tokens"])
	assert.InDelta(t, 0.5, r.Body["temperature"], 0.0001)
	assert.NotContains(t, r.Body, "reasoning")

	messages, ok := r.Body["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, messages, 3)
	roles := []string{}
	for _, m := range messages {
		roles = append(roles, m.(map[string]interface{})["role"].(string))
	}
	assert.Equal(t, []string{"system", "assistant", "user"}, roles)
}

func TestChatStreamReasoning(t *testing.T) {
	srv := newSSEServer(t, http.StatusOK, []string{"ok"}, true)

	s := testSettings(srv.URL)
	s.Reasoning = true
	e, err := NewOpenAIEngine(s)
	require.NoError(t, err)

	stream, err := e.ChatStream(context.Background(), countRequest)
	require.NoError(t, err)
	_, err = collect(t, stream)
	require.NoError(t, err)

	requests := srv.Requests()
	require.Len(t, requests, 1)
	assert.Equal(t, map[string]interface{}{"enabled": true}, requests[0].Body["reasoning"])
}

func TestChatStreamZeroTemperature(t *testing.T) {
	srv := newSSEServer(t, http.StatusOK, []string{"ok"}, true)

	s := testSettings(srv.URL)
	s.Temperature = 0
	require.NoError(t, s.Validate())
	e, err := NewOpenAIEngine(s)
	require.NoError(t, err)

	stream, err := e.ChatStream(context.Background(), countRequest)
	require.NoError(t, err)
	_, err = collect(t, stream)
	require.NoError(t, err)

	requests := srv.Requests()
	require.Len(t, requests, 1)
	require.Contains(t, requests[0].Body, "temperature")
	assert.EqualValues(t, 0, requests[0].Body["temperature"])
	assert.NotContains(t, requests[0].Body, "reasoning")
}

func TestChatStreamRequestRefused(t *testing.T) {
	srv := newSSEServer(t, http.StatusUnauthorized, nil, false)

	e, err := NewOpenAIEngine(testSettings(srv.URL))
	require.NoError(t, err)

	_, err = e.ChatStream(context.Background(), countRequest)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestChatStreamBrokenOff(t *testing.T) {
	// the connection ends without [DONE]
	srv := newSSEServer(t, http.StatusOK, []string{"1", ", 2"}, false)

	e, err := NewOpenAIEngine(testSettings(srv.URL))
	require.NoError(t, err)

	stream, err := e.ChatStream(context.Background(), countRequest)
	require.NoError(t, err)
	fragments, err := collect(t, stream)
	assert.Equal(t, []string{"1", ", 2"}, fragments)
	if err != nil {
		assert.NotEqual(t, io.EOF, err)
	}
}

type recordingTap struct {
	mu        sync.Mutex
	body      string
	status    int
	fragments []string
}

func (r *recordingTap) OnHTTP(req *http.Request, body []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.body = string(body)
}

func (r *recordingTap) OnHTTPResponse(resp *http.Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = resp.StatusCode
}

func (r *recordingTap) OnFragment(fragment string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fragments = append(r.fragments, fragment)
}

func TestChatStreamDebugTap(t *testing.T) {
	srv := newSSEServer(t, http.StatusOK, []string{"a", "b"}, true)

	e, err := NewOpenAIEngine(testSettings(srv.URL))
	require.NoError(t, err)

	tap := &recordingTap{}
	ctx := engine.WithDebugTap(context.Background(), tap)
	stream, err := e.ChatStream(ctx, countRequest)
	require.NoError(t, err)
	_, err = collect(t, stream)
	require.NoError(t, err)

	assert.True(t, strings.Contains(tap.body, `"Count to 3"`))
	assert.Equal(t, http.StatusOK, tap.status)
	assert.Equal(t, []string{"a", "b"}, tap.fragments)
}

func TestNewOpenAIEngineValidates(t *testing.T) {
	s := testSettings("")
	_, err := NewOpenAIEngine(s)
	assert.Error(t, err)

	s = testSettings("http://localhost")
	s.APIKey = ""
	_, err = NewOpenAIEngine(s)
	assert.Error(t, err)
}

func TestMakeCompletionRequestWithoutSystemPrompt(t *testing.T) {
	req := MakeCompletionRequest(settings.NewSettings(), engine.Request{
		Messages: []engine.Message{{Role: engine.RoleUser, Content: "hello"}},
	})
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.True(t, req.Stream)
	assert.Equal(t, float32(0.5), req.Temperature)
}
