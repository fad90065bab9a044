package events

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// PrinterFunc returns a handler that writes the text of a run to w as it is
// streamed. name is printed once before the first fragment of each run.
// With verbose set, the metadata of the request is dumped as YAML.
func PrinterFunc(name string, w io.Writer, verbose bool) func(e Event) error {
	isFirst := true
	lastText := ""

	return func(e Event) error {
		switch p_ := e.(type) {
		case *EventRequestSent:
			isFirst = true
			lastText = ""
			if verbose {
				v_, err := yaml.Marshal(p_.Metadata().LLMInferenceData)
				if err != nil {
					return err
				}
				if _, err := fmt.Fprintf(w, "\n%s", v_); err != nil {
					return err
				}
			}

		case *EventRequestError:
			if _, err := fmt.Fprintf(w, "\n[error] %s\n", p_.Message); err != nil {
				return err
			}

		case *EventStreamUpdate:
			if isFirst && name != "" {
				isFirst = false
				if _, err := fmt.Fprintf(w, "\n%s: \n", name); err != nil {
					return err
				}
			}
			if _, err := fmt.Fprintf(w, "%s", p_.Delta); err != nil {
				return err
			}
			lastText = p_.Completion

		case *EventStreamFinished:
			if !strings.HasSuffix(lastText, "\n") {
				if _, err := fmt.Fprintf(w, "\n"); err != nil {
					return err
				}
			}
			if p_.Truncated {
				if _, err := fmt.Fprintf(w, "[truncated] %s\n", p_.Error); err != nil {
					return err
				}
			}

		case *EventRequestAccepted:
		}

		return nil
	}
}
