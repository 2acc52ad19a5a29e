//go:build !js

package bridge

import (
	"fmt"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// StartEmbedded runs an in-process NATS server for the bridge.
// Port -1 picks a random free port.
func StartEmbedded(host string, port int) (*natsserver.Server, error) {
	opts := &natsserver.Options{
		Host:           host,
		Port:           port,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	server, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create nats server: %w", err)
	}

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		server.Shutdown()
		return nil, fmt.Errorf("nats server on %s:%d not ready", host, port)
	}
	return server, nil
}
