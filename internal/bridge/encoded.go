package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ptw/internal/logging"
	"github.com/fyrsmithlabs/ptw/internal/metrics"
	"github.com/google/uuid"
)

// ErrMalformed is returned for payloads that do not decode as a Message.
var ErrMalformed = errors.New("malformed bridge message")

// CodeNoHandler marks a Reply for a type nobody handles, so the caller can
// report ErrNoHandler instead of a generic remote failure.
const CodeNoHandler = "no_handler"

// Sender moves one encoded Message to the handling side and returns the
// encoded Reply. Transports that only carry strings or bytes (browser
// runtime messaging, pipes) implement this.
type Sender func(ctx context.Context, data []byte) ([]byte, error)

// FuncClient is a Client over a Sender.
type FuncClient struct {
	send Sender
}

// NewFuncClient creates a client that sends through send.
func NewFuncClient(send Sender) *FuncClient {
	return &FuncClient{send: send}
}

// Request implements Client.
func (c *FuncClient) Request(ctx context.Context, msgType string, payload, out interface{}) error {
	msg, err := newMessage(uuid.New().String(), msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	resp, err := c.send(ctx, data)
	if err != nil {
		return fmt.Errorf("%s request %s: %w", msgType, msg.ID, err)
	}
	return decodeReplyData(msgType, resp, out)
}

// Answer decodes one encoded Message, runs its handler and returns the
// encoded Reply. The reply is always sendable; err carries the decode or
// handler failure for the caller's logs.
func (m *Mux) Answer(ctx context.Context, data []byte) ([]byte, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		out, _ := json.Marshal(Reply{Error: ErrMalformed.Error()})
		return out, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	reply, err := m.answer(logging.WithRequestID(ctx, msg.ID), msg)
	out, mErr := json.Marshal(reply)
	if mErr != nil {
		out, _ = json.Marshal(Reply{ID: msg.ID, Error: mErr.Error()})
		return out, fmt.Errorf("marshal %s reply: %w", msg.Type, mErr)
	}
	return out, err
}

// answer dispatches msg and builds its Reply, counting the outcome.
func (m *Mux) answer(ctx context.Context, msg Message) (Reply, error) {
	raw, err := m.Dispatch(ctx, msg)
	reply := Reply{ID: msg.ID, Payload: raw}

	result := metrics.ResultOK
	if err != nil {
		result = metrics.ResultError
		reply.Error = err.Error()
		if errors.Is(err, ErrNoHandler) {
			reply.Code = CodeNoHandler
		}
	}
	metrics.New().BridgeRequestsTotal.WithLabelValues(msg.Type, result).Inc()
	return reply, err
}

// decodeReplyData unmarshals an encoded Reply and its payload into out.
func decodeReplyData(msgType string, data []byte, out interface{}) error {
	var reply Reply
	if err := json.Unmarshal(data, &reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", msgType, err)
	}
	if reply.Code == CodeNoHandler {
		return fmt.Errorf("%w: %s", ErrNoHandler, msgType)
	}
	if reply.Error != "" {
		return fmt.Errorf("%w: %s: %s", ErrRemote, msgType, reply.Error)
	}
	return decodeReply(reply.Payload, out)
}
