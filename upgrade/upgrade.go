// Package upgrade repeats the impersonation attempt as a WebSocket upgrade.
// Watch and exec endpoints are reached through upgrades, and some front
// proxies apply a different header policy to them than to plain GETs.
package upgrade

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"remoteuser-probe/channel"
	"remoteuser-probe/probe"
	"remoteuser-probe/shared"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Result of one upgrade attempt.
type Result struct {
	StatusCode int
	Accepted   bool // 101 Switching Protocols
}

// Prober performs the upgrade over a freshly established channel.
type Prober struct {
	cfg    *shared.ProbeConfig
	dialer *channel.Dialer
	logger *shared.Logger
}

func NewProber(cfg *shared.ProbeConfig, dialer *channel.Dialer, logger *shared.Logger) *Prober {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	return &Prober{cfg: cfg, dialer: dialer, logger: logger}
}

// Run establishes a new stream and asks for an upgrade on the probe target
// with the impersonation header set. A refused upgrade is a result, not an
// error; errors are reserved for connection, handshake and protocol failures.
func (p *Prober) Run(ctx context.Context) (*Result, error) {
	stream, err := p.dialer.Establish(ctx, p.cfg.Host, p.cfg.Port)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	req := probe.NewRequest(p.cfg)
	u := url.URL{Scheme: "wss", Host: req.Host, Path: req.Target}

	dialer := &websocket.Dialer{
		HandshakeTimeout: p.cfg.Timeout,
		// The TLS handshake already happened in channel.Establish.
		NetDialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return stream.Conn(), nil
		},
	}

	headers := p.requestHeaders()

	p.logger.Debug("Attempting WebSocket upgrade", zap.String("url", u.String()))
	wsConn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			p.logger.Info("Upgrade refused", zap.Int("status", resp.StatusCode))
			return &Result{StatusCode: resp.StatusCode}, nil
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, shared.NewProbeError(shared.KindEndOfStream, "websocket upgrade", err)
		}
		return nil, shared.NewProbeError(shared.KindConnection, "websocket upgrade", err)
	}

	result := &Result{StatusCode: resp.StatusCode, Accepted: true}
	p.logger.Info("Upgrade accepted", zap.Int("status", resp.StatusCode))

	// Best effort; the stream close below tears the connection down either way.
	wsConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))

	return result, nil
}

// managedHeaders are set by the websocket dialer itself and rejected when
// supplied by the caller.
var managedHeaders = map[string]bool{
	"Host":                     true,
	"Upgrade":                  true,
	"Connection":               true,
	"Sec-Websocket-Key":        true,
	"Sec-Websocket-Version":    true,
	"Sec-Websocket-Extensions": true,
}

// requestHeaders carries the same assertions as the plain request: the
// impersonation header plus every extra line that parses as "Name: value".
func (p *Prober) requestHeaders() http.Header {
	headers := http.Header{}
	headers.Set(probe.ImpersonationHeader, p.cfg.Identity)

	for _, line := range p.cfg.ExtraHeaders {
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			p.logger.Debug("Extra line is not a header, left out of upgrade", zap.String("line", line))
			continue
		}
		if managedHeaders[http.CanonicalHeaderKey(name)] {
			p.logger.Debug("Header is managed by the websocket dialer", zap.String("header", name))
			continue
		}
		headers.Add(name, strings.TrimSpace(value))
	}
	return headers
}
