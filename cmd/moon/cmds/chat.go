package cmds

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tcnksm/go-input"

	"github.com/go-go-golems/moon/pkg/chat"
	"github.com/go-go-golems/moon/pkg/conversation"
	"github.com/go-go-golems/moon/pkg/events"
)

const chatHelp = `Type a message to add it as your turn, an empty line lets the character continue.
  /next D        select the next alternative at depth D, generating a new one past the last
  /prev D        select the previous alternative at depth D
  /edit D text   replace the message at depth D with text
  /del D         remove the message at depth D and everything after it
  /history       print the conversation
  /help          print this help
  /quit          leave
`

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively with a character",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := newChat(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if err := c.Close(); err != nil {
					log.Warn().Err(err).Msg("could not close chat")
				}
			}()

			markdown, _ := cmd.Flags().GetBool("markdown")
			r := newRenderer(os.Stdout, markdown)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sub, err := c.Subscribe(ctx)
			if err != nil {
				return err
			}
			finished := make(chan struct{}, 1)
			go printRuns(c, sub, r, finished)

			_, _ = fmt.Fprintf(os.Stdout, "%s\n\n", c.Title())
			r.History(c)

			ui := &input.UI{
				Writer: os.Stdout,
				Reader: os.Stdin,
			}
			for {
				line, err := ui.Ask(fmt.Sprintf("%s>", c.User().Name()), &input.Options{
					HideOrder: true,
					Loop:      false,
				})
				if err != nil {
					// ctrl-c or end of input
					log.Debug().Err(err).Msg("input ended")
					return nil
				}

				generating, quit, err := runCommand(c, r, line)
				if err != nil {
					_, _ = fmt.Fprintf(os.Stdout, "error: %s\n", err)
					continue
				}
				if quit {
					return nil
				}
				if generating {
					<-finished
				}
			}
		},
	}
	addChatFlags(cmd)
	cmd.Flags().Bool("markdown", true, "Render the character's messages as markdown on terminals")
	return cmd
}

// printRuns prints the runs of c as they are streamed, or rendered once
// they are complete when markdown is enabled. finished receives a value at
// the end of every run.
func printRuns(c *chat.Chat, sub *events.Subscription, r *renderer, finished chan<- struct{}) {
	printer := events.PrinterFunc(c.Character().Name(), os.Stdout, viper.GetBool("verbose"))
	for e := range sub.Events() {
		if !r.Markdown() {
			if err := printer(e); err != nil {
				log.Warn().Err(err).Msg("could not print event")
			}
		}

		switch e_ := e.(type) {
		case *events.EventRequestError:
			if r.Markdown() {
				_, _ = fmt.Fprintf(os.Stdout, "[error] %s\n", e_.Message)
			}
			finished <- struct{}{}
		case *events.EventStreamFinished:
			if r.Markdown() {
				if msg, ok := c.Message(conversation.NodeID(e_.Metadata().MessageID)); ok {
					r.Message(c.Character().Name(), msg)
				}
				if e_.Truncated {
					_, _ = fmt.Fprintf(os.Stdout, "[truncated] %s\n", e_.Error)
				}
			}
			finished <- struct{}{}
		default:
		}
	}
}

func parseDepth(s string) (int, error) {
	d, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Errorf("invalid depth %q", s)
	}
	return d, nil
}

// runCommand executes one line of input. generating is true when a run was
// triggered.
func runCommand(c *chat.Chat, r *renderer, line string) (generating bool, quit bool, err error) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "/") {
		_, err := c.AppendUserTurn(line)
		return err == nil, false, err
	}

	fields := strings.Fields(trimmed)
	command, args := fields[0], fields[1:]
	switch command {
	case "/quit", "/exit":
		return false, true, nil

	case "/help":
		_, _ = fmt.Fprint(os.Stdout, chatHelp)
		return false, false, nil

	case "/history":
		r.History(c)
		return false, false, nil

	case "/next", "/prev", "/del", "/edit":
		if len(args) < 1 {
			return false, false, errors.Errorf("%s needs a depth", command)
		}
		depth, err := parseDepth(args[0])
		if err != nil {
			return false, false, err
		}

		switch command {
		case "/next":
			_, created, err := c.Advance(depth)
			if err != nil {
				return false, false, err
			}
			if !created {
				r.History(c)
			}
			return created, false, nil

		case "/prev":
			if err := c.Retreat(depth); err != nil {
				return false, false, err
			}
			r.History(c)
			return false, false, nil

		case "/del":
			if err := c.Remove(depth); err != nil {
				return false, false, err
			}
			r.History(c)
			return false, false, nil

		default:
			text := strings.Join(args[1:], " ")
			if text == "" {
				return false, false, errors.New("/edit needs a text")
			}
			_, created, err := c.Edit(depth, text)
			if err != nil {
				return false, false, err
			}
			if !created {
				r.History(c)
			}
			return created, false, nil
		}
	}

	return false, false, errors.Errorf("unknown command %s, try /help", command)
}
