// Package local connects an engine or relayer to a relay application
// linked into the same process. Calls go straight to the server that
// guards the application, so nothing is serialized.
package local

import (
	"github.com/blockberries/relay"
	"github.com/blockberries/relay/server"
)

var _ relay.Connection = (*Connection)(nil)

// Connection is an in-process relay.Connection. Every method, including
// the lifecycle ordering checks and the record feed, comes from the
// embedded server.
type Connection struct {
	*server.Server
}

func NewConnection(app relay.Lifecycle, opts ...server.Option) (*Connection, error) {
	srv, err := server.New(app, opts...)
	if err != nil {
		return nil, err
	}
	return &Connection{Server: srv}, nil
}
