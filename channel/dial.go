package channel

import (
	"context"
	"crypto/tls"
	"net"
	"remoteuser-probe/shared"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

// DialFunc opens the transport connection. net.Dialer.DialContext satisfies it.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Dialer establishes encrypted streams to the probe target.
type Dialer struct {
	Trust  shared.TrustMode
	CAFile string

	// DialContext replaces the TCP dial, mainly for tests.
	DialContext DialFunc

	logger *shared.Logger
}

// NewDialer creates a Dialer using the trust settings from cfg.
func NewDialer(cfg *shared.ProbeConfig, logger *shared.Logger) *Dialer {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	return &Dialer{
		Trust:  cfg.Trust,
		CAFile: cfg.CAFile,
		logger: logger,
	}
}

// Establish connects to host:port and completes a TLS handshake with
// ServerName set to host. The returned Stream owns both layers.
func (d *Dialer) Establish(ctx context.Context, host string, port int) (*Stream, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	logger := d.logger.WithTarget(addr)

	tlsConfig, err := TLSConfig(host, d.Trust, d.CAFile)
	if err != nil {
		return nil, err
	}

	dial := d.DialContext
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	logger.Debug("Attempting TCP dial")
	rawConn, err := dial(ctx, "tcp", addr)
	if err != nil {
		logger.Error("TCP dial failed", zap.Error(err))
		return nil, shared.NewProbeError(shared.KindConnection, "dial "+addr, err)
	}
	// tls.Conn may close the transport itself when ctx is cancelled mid
	// handshake; onceConn keeps the transport close to a single call.
	conn := &onceConn{Conn: rawConn}

	tlsConn := tls.Client(conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		logger.Error("TLS handshake failed", zap.Error(err), zap.String("trust", string(d.Trust)))
		return nil, shared.NewProbeError(shared.KindHandshake, "handshake with "+addr, err)
	}

	state := tlsConn.ConnectionState()
	logger.Debug("TLS handshake completed",
		zap.Uint16("version", state.Version),
		zap.String("cipher_suite", tls.CipherSuiteName(state.CipherSuite)),
		zap.Bool("verified", len(state.VerifiedChains) > 0))

	return NewStream(tlsConn), nil
}

type onceConn struct {
	net.Conn
	once sync.Once
	err  error
}

func (c *onceConn) Close() error {
	c.once.Do(func() {
		c.err = c.Conn.Close()
	})
	return c.err
}
