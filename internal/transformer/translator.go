// Package transformer translates the upstream event stream into OpenAI style
// chunks and results.
package transformer

import (
	"bufio"
	"context"
	"errors"
	"io"

	"doubao-api/internal/doubao"
	app_errors "doubao-api/internal/errors"

	"github.com/sirupsen/logrus"
)

const (
	initialLineBuffer = 64 * 1024
	maxLineSize       = 1024 * 1024
)

// Outcome is how a streamed translation ended.
type Outcome int

const (
	// OutcomeCompleted means the final chunk and the done marker were sent.
	OutcomeCompleted Outcome = iota
	// OutcomeAborted means the downstream went away; nothing more was sent.
	OutcomeAborted
	// OutcomeFailed means translation stopped on an error that the caller must report.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeAborted:
		return "aborted"
	default:
		return "failed"
	}
}

// Sink receives downstream chunks in order.
type Sink interface {
	// Send writes one chunk. An error means the downstream is gone.
	Send(chunk any) error
	// Done writes the end-of-stream marker.
	Done() error
}

// Adapter maps decoded events of one flow to downstream chunks.
type Adapter interface {
	// Handle consumes one event and returns the chunks to emit for it.
	Handle(ev doubao.Event) []any
	// Finish is called on normal end of stream and returns the closing chunks.
	Finish() ([]any, error)
}

// Translator drives the decode loop over an upstream body.
type Translator struct {
	logger *logrus.Entry
}

// NewTranslator creates a Translator.
func NewTranslator() *Translator {
	return &Translator{logger: logrus.WithField("component", "stream_translator")}
}

// Stream decodes body line by line and forwards the adapter's chunks to sink.
// The context is checked before every line; once it is done, or once the sink
// refuses a chunk, reading stops and OutcomeAborted is returned without error.
func (t *Translator) Stream(ctx context.Context, body io.Reader, adapter Adapter, sink Sink) (Outcome, error) {
	aborted, err := t.scan(ctx, body, func(ev doubao.Event) bool {
		for _, chunk := range adapter.Handle(ev) {
			if err := sink.Send(chunk); err != nil {
				t.logger.WithError(err).Debug("Downstream closed while streaming")
				return false
			}
		}
		return true
	})
	if aborted {
		return OutcomeAborted, nil
	}
	if err != nil {
		return OutcomeFailed, err
	}

	final, err := adapter.Finish()
	if err != nil {
		return OutcomeFailed, err
	}
	for _, chunk := range final {
		if err := sink.Send(chunk); err != nil {
			return OutcomeAborted, nil
		}
	}
	if err := sink.Done(); err != nil {
		return OutcomeAborted, nil
	}
	return OutcomeCompleted, nil
}

// Collect runs the decode loop over a buffered body, feeding every event to the
// adapter without emitting anything. The caller reads the accumulated result
// from the adapter afterwards.
func (t *Translator) Collect(ctx context.Context, body io.Reader, adapter Adapter) error {
	aborted, err := t.scan(ctx, body, func(ev doubao.Event) bool {
		adapter.Handle(ev)
		return true
	})
	if aborted {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return context.Canceled
	}
	return err
}

// scan calls handle for every decoded event until the done marker or EOF.
// It reports aborted when the context is done or handle returns false.
func (t *Translator) scan(ctx context.Context, body io.Reader, handle func(doubao.Event) bool) (aborted bool, err error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, initialLineBuffer), maxLineSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return true, nil
		}

		ev := doubao.Decode(scanner.Text())
		switch ev.Kind {
		case doubao.EventDone:
			return false, nil
		case doubao.EventIgnore:
			continue
		case doubao.EventMalformed:
			t.logger.WithError(ev.Err).Warn("Skipping malformed upstream line")
			continue
		}

		if !handle(ev) {
			return true, nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return true, nil
		}
		return false, &app_errors.StreamIOError{Err: err}
	}
	if ctx.Err() != nil {
		return true, nil
	}
	return false, nil
}
