package cookies

import (
	"context"

	"github.com/fyrsmithlabs/ptw/internal/bridge"
	"github.com/fyrsmithlabs/ptw/internal/logging"
	"go.uber.org/zap"
)

// Bridge message types served by Service.
const (
	TypeGet = "cookie/get"
	TypeSet = "cookie/set"
)

// GetRequest is the cookie/get payload.
type GetRequest struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// GetResponse is the cookie/get reply. Value is empty when Found is false.
type GetResponse struct {
	Value string `json:"value,omitempty"`
	Found bool   `json:"found"`
}

// Service answers cookie requests from the page side.
type Service struct {
	jar    Jar
	logger *logging.Logger
}

// NewService creates a service over jar.
func NewService(jar Jar, logger *logging.Logger) *Service {
	return &Service{jar: jar, logger: logger.Component("cookies")}
}

// Register adds the cookie handlers to mux.
func (s *Service) Register(mux *bridge.Mux) error {
	if err := mux.HandleFunc(TypeGet, s.handleGet); err != nil {
		return err
	}
	return mux.HandleFunc(TypeSet, s.handleSet)
}

func (s *Service) handleGet(ctx context.Context, msg bridge.Message) (interface{}, error) {
	var req GetRequest
	if err := msg.Decode(&req); err != nil {
		return nil, err
	}
	value, ok, err := s.jar.Get(ctx, req.URL, req.Name)
	if err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "cookie read",
		zap.String("name", req.Name), zap.Bool("found", ok), logging.RedactedString("value", value))
	return GetResponse{Value: value, Found: ok}, nil
}

func (s *Service) handleSet(ctx context.Context, msg bridge.Message) (interface{}, error) {
	var c Cookie
	if err := msg.Decode(&c); err != nil {
		return nil, err
	}
	if err := s.jar.Set(ctx, c); err != nil {
		return nil, err
	}
	s.logger.Debug(ctx, "cookie written",
		zap.String("name", c.Name), zap.Int64("expires", c.ExpirationDate), logging.RedactedString("value", c.Value))
	return nil, nil
}

// Remote is a Jar that forwards to a Service across the bridge.
type Remote struct {
	client bridge.Client
}

// NewRemote creates a Jar backed by client.
func NewRemote(client bridge.Client) *Remote {
	return &Remote{client: client}
}

// Get implements Jar.
func (r *Remote) Get(ctx context.Context, rawURL, name string) (string, bool, error) {
	var resp GetResponse
	if err := r.client.Request(ctx, TypeGet, GetRequest{URL: rawURL, Name: name}, &resp); err != nil {
		return "", false, err
	}
	return resp.Value, resp.Found, nil
}

// Set implements Jar.
func (r *Remote) Set(ctx context.Context, c Cookie) error {
	return r.client.Request(ctx, TypeSet, c, nil)
}

// Close implements Jar. The remote side owns the storage.
func (r *Remote) Close() error { return nil }
