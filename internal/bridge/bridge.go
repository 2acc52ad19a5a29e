// Package bridge carries request/response messages between the page context
// and the privileged background process.
//
// Every request is a Message{ID, Type, Payload} and completes exactly once
// with either a payload or an error. Three transports share the contract:
// NATS request/reply for separate processes, Local for in-process use, and
// FuncClient with Mux.Answer for anything that moves encoded bytes, such as
// browser extension runtime messaging.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Errors for bridge operations.
var (
	// ErrNoHandler is returned when no handler is registered for a message type.
	ErrNoHandler = errors.New("no handler for message type")
	// ErrRemote wraps an error reported by the handling side.
	ErrRemote = errors.New("remote handler failed")
	// ErrInvalidType is returned for empty or non-routable message types.
	ErrInvalidType = errors.New("invalid message type")
)

// Message is one bridge request.
type Message struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Reply answers a Message with the same ID.
type Reply struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// Client sends requests across the bridge.
//
// Request marshals payload, waits for the reply and unmarshals its payload
// into out. A nil out discards the reply payload.
type Client interface {
	Request(ctx context.Context, msgType string, payload, out interface{}) error
}

// Handler answers messages of one type.
type Handler interface {
	Handle(ctx context.Context, msg Message) (interface{}, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) (interface{}, error)

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, msg Message) (interface{}, error) {
	return f(ctx, msg)
}

// Mux routes messages to handlers by type.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{handlers: make(map[string]Handler)}
}

// Handle registers h for msgType, replacing any previous handler.
func (m *Mux) Handle(msgType string, h Handler) error {
	if err := ValidateType(msgType); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[msgType] = h
	return nil
}

// HandleFunc registers f for msgType.
func (m *Mux) HandleFunc(msgType string, f func(ctx context.Context, msg Message) (interface{}, error)) error {
	return m.Handle(msgType, HandlerFunc(f))
}

// Types returns the registered message types in sorted order.
func (m *Mux) Types() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	types := make([]string, 0, len(m.handlers))
	for t := range m.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch runs the handler for msg and marshals its result.
func (m *Mux) Dispatch(ctx context.Context, msg Message) (json.RawMessage, error) {
	m.mu.RLock()
	h, ok := m.handlers[msg.Type]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, msg.Type)
	}

	result, err := h.Handle(ctx, msg)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("marshal %s result: %w", msg.Type, err)
	}
	return raw, nil
}

// ValidateType checks that msgType can be routed as a subject token sequence.
func ValidateType(msgType string) error {
	if msgType == "" {
		return ErrInvalidType
	}
	if strings.ContainsAny(msgType, " \t\r\n*>.") {
		return fmt.Errorf("%w: %q", ErrInvalidType, msgType)
	}
	for _, part := range strings.Split(msgType, "/") {
		if part == "" {
			return fmt.Errorf("%w: %q", ErrInvalidType, msgType)
		}
	}
	return nil
}

// Subject maps a message type to a NATS subject under prefix.
// "cookie/get" under "ptw.bridge" becomes "ptw.bridge.cookie.get".
func Subject(prefix, msgType string) string {
	return prefix + "." + strings.ReplaceAll(msgType, "/", ".")
}

// Decode unmarshals a message payload into v.
func (m Message) Decode(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Type, err)
	}
	return nil
}

func newMessage(id, msgType string, payload interface{}) (Message, error) {
	if err := ValidateType(msgType); err != nil {
		return Message{}, err
	}
	msg := Message{ID: id, Type: msgType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		msg.Payload = raw
	}
	return msg, nil
}

func decodeReply(raw json.RawMessage, out interface{}) error {
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}
