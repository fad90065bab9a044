package cmds

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/moon/pkg/chat"
	"github.com/go-go-golems/moon/pkg/events"
)

type demoStep struct {
	name string
	run  func(c *chat.Chat) (bool, error)
}

var demoSteps = []demoStep{
	{"add user message", func(c *chat.Chat) (bool, error) {
		_, err := c.AppendUserTurn("Count to 3")
		return err == nil, err
	}},
	{"next at depth 0", func(c *chat.Chat) (bool, error) {
		_, created, err := c.Advance(0)
		return created, err
	}},
	{"next at depth 0", func(c *chat.Chat) (bool, error) {
		_, created, err := c.Advance(0)
		return created, err
	}},
	{"previous at depth 0 (3x)", func(c *chat.Chat) (bool, error) {
		for i := 0; i < 3; i++ {
			if err := c.Retreat(0); err != nil {
				return false, err
			}
		}
		return false, nil
	}},
	{"edit at depth 1", func(c *chat.Chat) (bool, error) {
		_, created, err := c.Edit(1, "This is an user edit.")
		return created, err
	}},
	{"edit at depth 0", func(c *chat.Chat) (bool, error) {
		_, created, err := c.Edit(0, "This is a char edit.")
		return created, err
	}},
}

func NewDemoCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted session exercising generation and branching",
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

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			sub, err := c.Subscribe(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			r := newRenderer(w, false)
			_, _ = fmt.Fprintf(w, "%s\n", c.Title())
			r.History(c)

			for _, step := range demoSteps {
				_, _ = fmt.Fprintf(w, "\n# %s\n", step.name)
				generating, err := step.run(c)
				if err != nil {
					_, _ = fmt.Fprintf(w, "error: %s\n", err)
					continue
				}
				if generating {
					if err := printEvents(w, sub); err != nil {
						return err
					}
				}
				r.History(c)
			}

			return nil
		},
	}
	addChatFlags(cmd)
	return cmd
}

// printEvents prints the type of every event of one run.
func printEvents(w io.Writer, sub *events.Subscription) error {
	for e := range sub.Events() {
		switch e_ := e.(type) {
		case *events.EventRequestError:
			_, _ = fmt.Fprintf(w, "%s: %s\n", e.Type(), e_.Message)
			return nil
		case *events.EventStreamFinished:
			if e_.Truncated {
				_, _ = fmt.Fprintf(w, "%s (truncated: %s)\n", e.Type(), e_.Error)
			} else {
				_, _ = fmt.Fprintf(w, "%s\n", e.Type())
			}
			return nil
		default:
			_, _ = fmt.Fprintf(w, "%s\n", e.Type())
		}
	}
	return errors.New("subscription ended before the run finished")
}
