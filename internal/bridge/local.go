package bridge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Local delivers requests to a Mux in the same process.
//
// Handlers run on their own goroutine and the caller waits for the reply or
// for ctx, so the round trip behaves like the NATS transport.
type Local struct {
	mux *Mux
}

// NewLocal creates a Local client over mux.
func NewLocal(mux *Mux) *Local {
	return &Local{mux: mux}
}

type localResult struct {
	raw []byte
	err error
}

// Request implements Client.
func (l *Local) Request(ctx context.Context, msgType string, payload, out interface{}) error {
	msg, err := newMessage(uuid.New().String(), msgType, payload)
	if err != nil {
		return err
	}

	done := make(chan localResult, 1)
	go func() {
		raw, err := l.mux.Dispatch(ctx, msg)
		done <- localResult{raw: raw, err: err}
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%s request %s: %w", msgType, msg.ID, ctx.Err())
	case res := <-done:
		if res.err != nil {
			if errors.Is(res.err, ErrNoHandler) {
				return res.err
			}
			if ctx.Err() != nil {
				return fmt.Errorf("%s request %s: %w", msgType, msg.ID, ctx.Err())
			}
			return fmt.Errorf("%w: %s: %v", ErrRemote, msgType, res.err)
		}
		return decodeReply(res.raw, out)
	}
}
