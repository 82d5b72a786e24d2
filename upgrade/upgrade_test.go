package upgrade

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"remoteuser-probe/channel"
	"remoteuser-probe/internal/probetest"
	"remoteuser-probe/shared"
	"strconv"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newUpgradeServer upgrades only requests asserting trustedUser.
func newUpgradeServer(t *testing.T, trustedUser string) (*httptest.Server, <-chan *http.Request) {
	seen := make(chan *http.Request, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r
		if r.Header.Get("X-Remote-User") != trustedUser {
			http.Error(w, `{"kind":"Status","status":"Failure","code":403}`, http.StatusForbidden)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.ReadMessage()
		conn.Close()
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func proberFor(t *testing.T, srv *httptest.Server, identity string) *Prober {
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := shared.DefaultProbeConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.Identity = identity
	cfg.Trust = shared.TrustInsecure

	logger := shared.WrapLogger(zaptest.NewLogger(t))
	return NewProber(cfg, channel.NewDialer(cfg, logger), logger)
}

func TestUpgradeAccepted(t *testing.T) {
	srv, seen := newUpgradeServer(t, "system:serviceaccount:kube-system:horizontal-pod-autoscaler")
	p := proberFor(t, srv, "system:serviceaccount:kube-system:horizontal-pod-autoscaler")

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Accepted)
	assert.Equal(t, http.StatusSwitchingProtocols, result.StatusCode)

	r := <-seen
	assert.Equal(t, "/apis/metrics.k8s.io/v1beta1/pods", r.URL.Path)
	assert.Equal(t, "websocket", r.Header.Get("Upgrade"))
}

func TestUpgradeRefused(t *testing.T) {
	srv, seen := newUpgradeServer(t, "system:admin")
	p := proberFor(t, srv, "system:anonymous")

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, http.StatusForbidden, result.StatusCode)
	assert.Equal(t, "system:anonymous", (<-seen).Header.Get("X-Remote-User"))
}

func TestUpgradeCarriesExtraHeaders(t *testing.T) {
	srv, seen := newUpgradeServer(t, "system:admin")
	p := proberFor(t, srv, "system:admin")
	p.cfg.ExtraHeaders = []string{
		"X-Remote-Group: system:masters",
		"X-Remote-Extra-Scopes: a",
		"not a header at all",
		"Connection: close",
	}

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Accepted)

	r := <-seen
	assert.Equal(t, "system:admin", r.Header.Get("X-Remote-User"))
	assert.Equal(t, "system:masters", r.Header.Get("X-Remote-Group"))
	assert.Equal(t, "a", r.Header.Get("X-Remote-Extra-Scopes"))
	assert.Equal(t, "Upgrade", r.Header.Get("Connection"))
}

func TestUpgradePeerClosesWithoutResponse(t *testing.T) {
	srv := probetest.NewLineServer(t, "")
	cfg := shared.DefaultProbeConfig()
	cfg.Host = srv.Host
	cfg.Port = srv.Port
	cfg.Trust = shared.TrustInsecure

	p := NewProber(cfg, channel.NewDialer(cfg, nil), nil)
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrEndOfStream)

	lines := srv.Request(t)
	assert.Contains(t, lines, "X-Remote-User: system:serviceaccount:kube-system:horizontal-pod-autoscaler\r\n")
}

func TestUpgradeConnectionRefused(t *testing.T) {
	cfg := shared.DefaultProbeConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = probetest.ClosedPort(t)
	cfg.Trust = shared.TrustInsecure

	p := NewProber(cfg, channel.NewDialer(cfg, nil), nil)
	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrConnection)
}
