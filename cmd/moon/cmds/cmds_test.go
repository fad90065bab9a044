package cmds

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/moon/pkg/chat"
	"github.com/go-go-golems/moon/pkg/conversation"
	"github.com/go-go-golems/moon/pkg/inference/fixtures"
	"github.com/go-go-golems/moon/pkg/persona"
	"github.com/go-go-golems/moon/pkg/steps/ai/settings"
)

func TestSetScalar(t *testing.T) {
	var root yaml.Node
	require.NoError(t, yaml.Unmarshal([]byte("# model used\nmodel: a\ntemperature: 0.5\n"), &root))

	setScalar(&root, "model", "b")
	setScalar(&root, "reasoning", "true")

	out, err := yaml.Marshal(&root)
	require.NoError(t, err)
	assert.Contains(t, string(out), "# model used")

	s := &settings.Settings{}
	require.NoError(t, root.Decode(s))
	assert.Equal(t, "b", s.Model)
	assert.True(t, s.Reasoning)
	assert.Equal(t, 0.5, s.Temperature)
}

func TestSetScalarEmptyDocument(t *testing.T) {
	root := &yaml.Node{}
	setScalar(root, "model", "x")

	s := &settings.Settings{}
	require.NoError(t, root.Decode(s))
	assert.Equal(t, "x", s.Model)
}

func newCommandTestChat(t *testing.T) (*chat.Chat, *renderer, *bytes.Buffer) {
	t.Helper()
	provider := fixtures.NewScriptedProvider(fixtures.Script{Fragments: []string{"ok"}})
	c, err := chat.NewChat(persona.DefaultUser(), persona.DefaultCharacter(), settings.NewSettings(), chat.WithProvider(provider))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	buf := &bytes.Buffer{}
	return c, newRenderer(buf, true), buf
}

func TestRunCommand(t *testing.T) {
	c, r, buf := newCommandTestChat(t)
	assert.False(t, r.Markdown())

	generating, quit, err := runCommand(c, r, "hello")
	require.NoError(t, err)
	assert.True(t, generating)
	assert.False(t, quit)
	c.Wait()

	generating, _, err = runCommand(c, r, "/next 1")
	require.NoError(t, err)
	assert.True(t, generating)
	c.Wait()

	_, _, err = runCommand(c, r, "/prev 1")
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "[1 1/2] Luna: ok")

	generating, _, err = runCommand(c, r, "/edit 1 rewritten")
	require.NoError(t, err)
	assert.False(t, generating)
	assert.Equal(t, "rewritten", c.History()[1].Text)

	_, _, err = runCommand(c, r, "/del 1")
	require.NoError(t, err)
	assert.Equal(t, []conversation.Position{{Selected: 1, Count: 1}, {Selected: 2, Count: 2}}, c.HistoryStructure())
	assert.Equal(t, "ok", c.History()[1].Text)

	_, quit, err = runCommand(c, r, "/quit")
	require.NoError(t, err)
	assert.True(t, quit)
}

func TestRunCommandErrors(t *testing.T) {
	c, r, _ := newCommandTestChat(t)

	for _, line := range []string{"/next", "/next x", "/edit 0", "/del 5", "/unknown"} {
		_, _, err := runCommand(c, r, line)
		assert.Error(t, err, line)
	}
}
