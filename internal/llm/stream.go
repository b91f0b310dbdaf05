package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tmaxmax/go-sse"
)

// errStreamDone stops readEvents at the provider's end-of-stream marker.
var errStreamDone = errors.New("stream done")

// readEvents passes each server-sent event to fn until the body ends or fn
// returns errStreamDone. A broken stream is retryable.
func readEvents(body io.Reader, name string, fn func(ev sse.Event) error) error {
	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			return &RetryableError{Message: fmt.Sprintf("%s stream: %v", name, err)}
		}
		if ev.Data == "" {
			continue
		}
		if err := fn(ev); err != nil {
			if errors.Is(err, errStreamDone) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Stream sends req and passes the reply to emit as it arrives, returning
// the full text. Clients that cannot stream emit the whole reply once. A
// failed attempt is retried only while nothing has been emitted.
func (c *Caller) Stream(ctx context.Context, op string, req Request, emit func(delta string) error) (string, error) {
	sc, ok := c.client.(StreamClient)
	if !ok {
		text, err := c.Call(ctx, op, req)
		if err != nil {
			return "", err
		}
		return text, emit(text)
	}

	emitted := false
	try := func(ctx context.Context) (string, error) {
		var sb strings.Builder
		err := sc.Stream(ctx, req, func(delta string) error {
			emitted = true
			sb.WriteString(delta)
			return emit(delta)
		})
		if err == nil && sb.Len() == 0 {
			err = &RetryableError{Message: "empty stream"}
		}
		return sb.String(), err
	}
	return c.run(ctx, op, try, nil, func() bool { return !emitted })
}
