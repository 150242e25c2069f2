// Package natstest runs an embedded NATS server for tests.
package natstest

import (
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// Start starts an embedded NATS server on a random port. It is shut down
// when the test ends.
func Start(tb testing.TB) *natsserver.Server {
	tb.Helper()
	opts := &natsserver.Options{
		Host:           "127.0.0.1",
		Port:           -1,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 2048,
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(tb, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		tb.Fatal("NATS server not ready")
	}

	tb.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})
	return server
}

// Connect starts a server and returns a connection to it.
func Connect(tb testing.TB) *nats.Conn {
	tb.Helper()
	server := Start(tb)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(tb, err)
	tb.Cleanup(nc.Close)
	return nc
}
