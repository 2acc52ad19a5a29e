//go:build !js

package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ptw/internal/logging"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// queueGroup lets several background processes share the load.
const queueGroup = "ptw-background"

// NATSClient sends requests over NATS request/reply.
type NATSClient struct {
	nc      *nats.Conn
	prefix  string
	timeout time.Duration
}

// NewNATSClient creates a client publishing under prefix.
// timeout applies when the request context has no deadline.
func NewNATSClient(nc *nats.Conn, prefix string, timeout time.Duration) *NATSClient {
	return &NATSClient{nc: nc, prefix: prefix, timeout: timeout}
}

// Request implements Client.
func (c *NATSClient) Request(ctx context.Context, msgType string, payload, out interface{}) error {
	msg, err := newMessage(uuid.New().String(), msgType, payload)
	if err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	resp, err := c.nc.RequestWithContext(ctx, Subject(c.prefix, msgType), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("%w: %s", ErrNoHandler, msgType)
		}
		return fmt.Errorf("%s request %s: %w", msgType, msg.ID, err)
	}

	return decodeReplyData(msgType, resp.Data, out)
}

// NATSServer answers bridge requests from a Mux.
type NATSServer struct {
	nc      *nats.Conn
	prefix  string
	mux     *Mux
	logger  *logging.Logger
	timeout time.Duration

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Serve subscribes every type registered on mux under prefix.
// Handlers registered after Serve are not routed.
func Serve(nc *nats.Conn, prefix string, mux *Mux, logger *logging.Logger, timeout time.Duration) (*NATSServer, error) {
	s := &NATSServer{
		nc:      nc,
		prefix:  prefix,
		mux:     mux,
		logger:  logger.Component("bridge"),
		timeout: timeout,
	}

	for _, msgType := range mux.Types() {
		subject := Subject(prefix, msgType)
		sub, err := nc.QueueSubscribe(subject, queueGroup, s.handle)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("subscribe %s: %w", subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	// Make sure subscriptions reached the server before callers send requests.
	if err := nc.Flush(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("flush subscriptions: %w", err)
	}
	return s, nil
}

func (s *NATSServer) handle(m *nats.Msg) {
	var msg Message
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		s.logger.Warn(context.Background(), "dropping undecodable bridge message",
			zap.String("subject", m.Subject), zap.Error(err))
		s.respond(m, Reply{Error: ErrMalformed.Error()})
		return
	}

	ctx := logging.WithRequestID(context.Background(), msg.ID)
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := s.mux.answer(ctx, msg)
	if err != nil {
		s.logger.Warn(ctx, "bridge handler failed", zap.String("type", msg.Type), zap.Error(err))
	} else {
		s.logger.Debug(ctx, "bridge request handled",
			zap.String("type", msg.Type), zap.Duration("duration", time.Since(start)))
	}
	s.respond(m, reply)
}

func (s *NATSServer) respond(m *nats.Msg, reply Reply) {
	data, err := json.Marshal(reply)
	if err != nil {
		s.logger.Error(context.Background(), "failed to marshal bridge reply", zap.Error(err))
		return
	}
	if err := m.Respond(data); err != nil {
		s.logger.Warn(context.Background(), "failed to send bridge reply", zap.Error(err))
	}
}

// Close unsubscribes all handlers.
func (s *NATSServer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, sub := range s.subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	s.subs = nil
	return errors.Join(errs...)
}
