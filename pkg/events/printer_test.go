package events

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrinterFunc(t *testing.T) {
	buf := &bytes.Buffer{}
	printer := PrinterFunc("Luna", buf, false)
	md := testMetadata()

	for _, e := range []Event{
		NewRequestSentEvent(md),
		NewRequestAcceptedEvent(md),
		NewStreamUpdateEvent(md, "1, ", "1, "),
		NewStreamUpdateEvent(md, "2", "1, 2"),
		NewStreamFinishedEvent(md, errors.New("eof")),
		NewRequestSentEvent(md),
		NewRequestErrorEvent(md, errors.New("denied")),
	} {
		require.NoError(t, printer(e))
	}

	assert.Equal(t, "\nLuna: \n1, 2\n[truncated] eof\n\n[error] denied\n", buf.String())
}

func TestPrinterFuncVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	printer := PrinterFunc("", buf, true)

	require.NoError(t, printer(NewRequestSentEvent(testMetadata())))
	assert.Contains(t, buf.String(), "model: google/gemma-3-27b-it")
	assert.Contains(t, buf.String(), "max_tokens: 1000")
}
