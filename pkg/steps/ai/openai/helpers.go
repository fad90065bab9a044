package openai

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"

	"github.com/go-go-golems/moon/pkg/inference/engine"
	"github.com/go-go-golems/moon/pkg/steps/ai/settings"
)

const appTitle = "moon"

// MakeClient builds a go-openai client talking to the OpenAI compatible API
// at s.BaseURL.
func MakeClient(s *settings.Settings) (*go_openai.Client, error) {
	if s.APIKey == "" {
		return nil, errors.New("no API key")
	}
	if s.BaseURL == "" {
		return nil, errors.New("no base URL")
	}

	config := go_openai.DefaultConfig(s.APIKey)
	config.BaseURL = s.BaseURL
	config.HTTPClient = &http.Client{
		Transport: newTransport(s),
	}
	return go_openai.NewClientWithConfig(config), nil
}

// MakeCompletionRequest converts request into a streaming chat completion
// request. The system prompt becomes the first message.
func MakeCompletionRequest(s *settings.Settings, request engine.Request) go_openai.ChatCompletionRequest {
	messages := make([]go_openai.ChatCompletionMessage, 0, len(request.Messages)+1)
	if request.SystemPrompt != "" {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    go_openai.ChatMessageRoleSystem,
			Content: request.SystemPrompt,
		})
	}
	for _, m := range request.Messages {
		messages = append(messages, go_openai.ChatCompletionMessage{
			Role:    roleToOpenAI(m.Role),
			Content: m.Content,
		})
	}

	return go_openai.ChatCompletionRequest{
		Model:       s.Model,
		Messages:    messages,
		MaxTokens:   s.MaxTokens,
		Temperature: float32(s.Temperature),
		Stream:      true,
	}
}

func roleToOpenAI(role engine.Role) string {
	switch role {
	case engine.RoleSystem:
		return go_openai.ChatMessageRoleSystem
	case engine.RoleAssistant:
		return go_openai.ChatMessageRoleAssistant
	case engine.RoleUser:
		return go_openai.ChatMessageRoleUser
	default:
		return go_openai.ChatMessageRoleUser
	}
}

// transport adds what go-openai's request type cannot express: OpenRouter's
// reasoning switch and app title. It also feeds the debug tap of the
// request's context.
type transport struct {
	base      http.RoundTripper
	reasoning bool
	// go-openai omits a zero temperature, which providers read as their
	// default
	zeroTemperature bool
}

func newTransport(s *settings.Settings) http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	// the whole stream may take longer than the timeout, only the headers
	// have to arrive in time
	base.ResponseHeaderTimeout = s.Timeout
	return &transport{
		base:            base,
		reasoning:       s.Reasoning,
		zeroTemperature: s.Temperature == 0,
	}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("X-Title", appTitle)

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, errors.Wrap(err, "could not read request body")
		}
		body = b

		if t.reasoning || t.zeroTemperature {
			body, err = patchBody(body, t.reasoning, t.zeroTemperature)
			if err != nil {
				return nil, err
			}
		}

		req.Body = io.NopCloser(bytes.NewReader(body))
		req.ContentLength = int64(len(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	tap, hasTap := engine.DebugTapFrom(req.Context())
	if hasTap {
		tap.OnHTTP(req, body)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if hasTap {
		tap.OnHTTPResponse(resp)
	}
	log.Debug().Int("status", resp.StatusCode).Str("url", req.URL.String()).Msg("OpenAI response received")
	return resp, nil
}

// patchBody adds `"reasoning": {"enabled": true}` and an explicit
// `"temperature": 0` to a JSON request body.
func patchBody(body []byte, reasoning bool, zeroTemperature bool) ([]byte, error) {
	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errors.Wrap(err, "could not parse request body")
	}
	if reasoning {
		payload["reasoning"] = map[string]interface{}{"enabled": true}
	}
	if zeroTemperature {
		payload["temperature"] = 0
	}
	return json.Marshal(payload)
}
