package events

import (
	"errors"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// embeddedReadyTimeout bounds how long a startup waits for the
// in-process server to accept connections.
const embeddedReadyTimeout = 5 * time.Second

// StartEmbedded runs an in-process NATS server for single-binary
// deployments and returns it together with its client URL. The caller
// shuts the server down.
func StartEmbedded() (*natsserver.Server, string, error) {
	opts := &natsserver.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	srv, err := natsserver.NewServer(opts)
	if err != nil {
		return nil, "", err
	}

	go srv.Start()
	if !srv.ReadyForConnections(embeddedReadyTimeout) {
		srv.Shutdown()
		return nil, "", errors.New("embedded nats server did not become ready")
	}
	return srv, srv.ClientURL(), nil
}
