package cmds

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/moon/pkg/chat"
	"github.com/go-go-golems/moon/pkg/conversation"
	"github.com/go-go-golems/moon/pkg/events"
	"github.com/go-go-golems/moon/pkg/inference/fixtures"
	"github.com/go-go-golems/moon/pkg/persona"
	"github.com/go-go-golems/moon/pkg/steps/ai/settings"
)

func settingsPath() (string, error) {
	if p := viper.GetString("config"); p != "" {
		return p, nil
	}
	return settings.DefaultPath()
}

func loadSettings() (*settings.Settings, string, error) {
	path, err := settingsPath()
	if err != nil {
		return nil, "", err
	}
	s, err := settings.Load(path)
	if err != nil {
		return nil, path, err
	}
	return s, path, nil
}

func personaDir(flag string, subdir string) (string, error) {
	if d := viper.GetString(flag); d != "" {
		return d, nil
	}
	return persona.CachePath(subdir)
}

// loadParticipant loads the persona name from dir, or the most recently
// used one when name is empty. Without any persona on disk the fallback is
// used.
func loadParticipant(dir string, name string, fallback func() *persona.Profile) (*persona.Profile, error) {
	if name != "" {
		p, err := persona.LoadProfile(filepath.Join(dir, name))
		if err != nil {
			return nil, errors.Wrapf(err, "could not load persona %s", name)
		}
		if err := p.Touch(); err != nil {
			log.Warn().Err(err).Str("path", p.Path).Msg("could not mark persona as used")
		}
		return p, nil
	}

	p, err := persona.MostRecent(dir)
	if err != nil {
		if errors.Is(err, persona.ErrNoPersona) || errors.Is(err, os.ErrNotExist) {
			ret := fallback()
			log.Info().Str("dir", dir).Str("persona", ret.Name()).Msg("no persona found, using default")
			return ret, nil
		}
		return nil, err
	}
	return p, nil
}

func addChatFlags(cmd *cobra.Command) {
	cmd.Flags().String("user", "", "User persona to use (directory name, default: most recently used)")
	cmd.Flags().String("character", "", "Character persona to use (directory name, default: most recently used)")
	cmd.Flags().Bool("offline", false, "Echo the user's messages instead of calling the API")
	cmd.Flags().String("fixture", "", "Replay the answers of a YAML fixture instead of calling the API")
	cmd.Flags().String("debug-tap-dir", "", "Record the raw provider traffic of every run in this directory")
	cmd.Flags().Int("buffer-size", events.DefaultBufferSize, "Number of events buffered per subscriber")
}

func newChat(cmd *cobra.Command) (*chat.Chat, error) {
	s, path, err := loadSettings()
	if err != nil {
		return nil, err
	}
	log.Debug().Str("path", path).Str("model", s.Model).Msg("settings loaded")

	usersDir, err := personaDir("users-dir", persona.UsersDir)
	if err != nil {
		return nil, err
	}
	charsDir, err := personaDir("chars-dir", persona.CharactersDir)
	if err != nil {
		return nil, err
	}

	userName, _ := cmd.Flags().GetString("user")
	characterName, _ := cmd.Flags().GetString("character")
	user, err := loadParticipant(usersDir, userName, persona.DefaultUser)
	if err != nil {
		return nil, err
	}
	character, err := loadParticipant(charsDir, characterName, persona.DefaultCharacter)
	if err != nil {
		return nil, err
	}

	bufferSize, _ := cmd.Flags().GetInt("buffer-size")
	options := []chat.Option{
		chat.WithChannelOptions(
			events.WithBufferSize(bufferSize),
			events.WithVerbose(viper.GetBool("verbose")),
		),
	}

	offline, _ := cmd.Flags().GetBool("offline")
	fixture, _ := cmd.Flags().GetString("fixture")
	switch {
	case fixture != "":
		provider, err := fixtures.NewScriptedProviderFromFile(fixture)
		if err != nil {
			return nil, err
		}
		options = append(options, chat.WithProvider(provider))
	case offline:
		options = append(options, chat.WithProvider(fixtures.NewEchoProvider()))
	}

	if dir, _ := cmd.Flags().GetString("debug-tap-dir"); dir != "" {
		options = append(options, chat.WithDebugTapDir(dir))
	}

	return chat.NewChat(user, character, s, options...)
}

// renderer renders character messages as markdown when writing to a
// terminal.
type renderer struct {
	w  io.Writer
	tr *glamour.TermRenderer
}

func newRenderer(w io.Writer, markdown bool) *renderer {
	ret := &renderer{w: w}
	if f, ok := w.(*os.File); !ok || !isatty.IsTerminal(f.Fd()) {
		markdown = false
	}
	if !markdown {
		return ret
	}

	tr, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		log.Warn().Err(err).Msg("could not create markdown renderer")
		return ret
	}
	ret.tr = tr
	return ret
}

func (r *renderer) Markdown() bool {
	return r.tr != nil
}

func (r *renderer) Message(name string, msg conversation.Message) {
	text := msg.Text
	if r.tr != nil && !msg.Owner.IsUser() {
		rendered, err := r.tr.Render(text)
		if err == nil {
			text = strings.TrimRight(rendered, "\n")
		}
	}
	_, _ = fmt.Fprintf(r.w, "%s: %s\n", name, text)
}

// History prints the selected path, with the position of each message
// among its alternatives.
func (r *renderer) History(c *chat.Chat) {
	history := c.History()
	structure := c.HistoryStructure()
	for i, msg := range history {
		prefix := fmt.Sprintf("[%d]", i)
		if i < len(structure) && structure[i].Count > 1 {
			prefix = fmt.Sprintf("[%d %d/%d]", i, structure[i].Selected, structure[i].Count)
		}
		_, _ = fmt.Fprintf(r.w, "%s ", prefix)
		r.Message(c.OwnerName(msg), msg)
	}
}
