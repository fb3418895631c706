// Package udp implements a datagram reporter plugin.
//
// Each OutputRecord is encoded (JSON or CBOR) into one UDP datagram and sent to
// one of the configured collectors. Routing is session-stable: the target is
// picked from a consistent hash ring keyed by session ID, so every record of a
// trace session reaches the same collector and adding a collector moves only a
// share of the sessions.
//
// Example reporter configuration:
//
//	reporters:
//	  - name: udp
//	    config:
//	      servers:
//	        - "10.0.0.1:9999"
//	        - "10.0.0.2:9999"
//	      encoding: cbor
package udp

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/serialx/hashring"

	"firestige.xyz/otrace/internal/core"
	"firestige.xyz/otrace/pkg/codec"
	"firestige.xyz/otrace/pkg/plugin"
)

// maxDatagram is the largest UDP payload over IPv4.
const maxDatagram = 65507

// UDPReporter sends OutputRecords as datagrams.
type UDPReporter struct {
	name    string
	config  Config
	encoder codec.Encoder

	// One pre-dialed UDP connection per configured server, keyed by address.
	// Connections are created in Start() and closed in Stop().
	conns map[string]*net.UDPConn
	ring  *hashring.HashRing

	sentCount  atomic.Uint64
	errorCount atomic.Uint64
}

// Config holds UDP reporter configuration.
type Config struct {
	// Servers lists remote UDP endpoints (host:port). At least one is required.
	Servers []string `mapstructure:"servers"`

	// Encoding selects the datagram body: json (default) or cbor.
	Encoding string `mapstructure:"encoding"`
}

// NewUDPReporter creates a new UDP reporter instance.
func NewUDPReporter() plugin.Reporter {
	return &UDPReporter{name: "udp"}
}

// Name returns the plugin identifier.
func (r *UDPReporter) Name() string { return r.name }

// Init validates and applies configuration.
func (r *UDPReporter) Init(config map[string]any) error {
	if config == nil {
		return fmt.Errorf("udp reporter: configuration is required")
	}

	var cfg Config
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return fmt.Errorf("udp reporter: %w", err)
	}
	if len(cfg.Servers) == 0 {
		return fmt.Errorf("udp reporter: at least one server is required")
	}

	enc, err := codec.ByName(cfg.Encoding)
	if err != nil {
		return fmt.Errorf("udp reporter: %w", err)
	}

	r.config = cfg
	r.encoder = enc
	return nil
}

// Start opens UDP connections to all configured servers.
func (r *UDPReporter) Start(_ context.Context) error {
	r.conns = make(map[string]*net.UDPConn, len(r.config.Servers))
	for _, srv := range r.config.Servers {
		addr, err := net.ResolveUDPAddr("udp", srv)
		if err != nil {
			r.closeConns() // clean up any already-opened connections
			return fmt.Errorf("udp reporter: resolve %q: %w", srv, err)
		}
		conn, err := net.DialUDP("udp", nil, addr)
		if err != nil {
			r.closeConns()
			return fmt.Errorf("udp reporter: dial %q: %w", srv, err)
		}
		r.conns[srv] = conn
	}
	r.ring = hashring.New(r.config.Servers)
	slog.Info("udp reporter started",
		"servers", r.config.Servers,
		"encoding", r.encoder.Name(),
	)
	return nil
}

// Stop closes all UDP connections and logs final statistics.
func (r *UDPReporter) Stop(_ context.Context) error {
	r.closeConns()
	slog.Info("udp reporter stopped",
		"sent", r.sentCount.Load(),
		"errors", r.errorCount.Load(),
	)
	return nil
}

// closeConns closes all open UDP connections, ignoring errors.
func (r *UDPReporter) closeConns() {
	for _, c := range r.conns {
		if c != nil {
			_ = c.Close()
		}
	}
	r.conns = nil
}

// Report encodes rec and sends it to the session's collector.
func (r *UDPReporter) Report(_ context.Context, rec *core.OutputRecord) error {
	if rec == nil {
		return fmt.Errorf("udp reporter: nil record")
	}
	if len(r.conns) == 0 {
		return fmt.Errorf("udp reporter: %w", core.ErrServerStopped)
	}

	body, err := r.encoder.Encode(rec)
	if err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("udp reporter: encode: %w", err)
	}
	if len(body) > maxDatagram {
		r.errorCount.Add(1)
		return fmt.Errorf("udp reporter: record of %d bytes exceeds datagram limit", len(body))
	}

	conn := r.selectConn(rec.SessionID)
	if _, err = conn.Write(body); err != nil {
		r.errorCount.Add(1)
		return fmt.Errorf("udp reporter: send to %s: %w", conn.RemoteAddr(), err)
	}

	r.sentCount.Add(1)
	return nil
}

// Flush is a no-op: datagrams are sent immediately.
func (r *UDPReporter) Flush(_ context.Context) error { return nil }

// selectConn returns the connection for the collector that owns the session.
func (r *UDPReporter) selectConn(sessionID string) *net.UDPConn {
	if len(r.config.Servers) == 1 {
		return r.conns[r.config.Servers[0]]
	}
	node, ok := r.ring.GetNode(sessionID)
	if !ok {
		return r.conns[r.config.Servers[0]]
	}
	return r.conns[node]
}
