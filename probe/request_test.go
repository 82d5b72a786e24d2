package probe

import (
	"remoteuser-probe/shared"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	lines []string
}

func (w *recordingWriter) WriteLine(line string) error {
	w.lines = append(w.lines, line)
	return nil
}

func TestRequestShape(t *testing.T) {
	testCases := []struct {
		name     string
		basePath string
		identity string
	}{
		{"metrics api", "/apis/metrics.k8s.io/v1beta1", "system:serviceaccount:kube-system:horizontal-pod-autoscaler"},
		{"core api", "/api/v1/namespaces/default", "system:admin"},
		{"empty base path", "", "alice"},
		{"identity with spaces", "/apis/custom.metrics.k8s.io/v1beta1", "Jane Doe"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := shared.DefaultProbeConfig()
			cfg.BasePath = tc.basePath
			cfg.Identity = tc.identity

			req := NewRequest(cfg)
			w := &recordingWriter{}
			require.NoError(t, req.WriteTo(w))

			require.Len(t, w.lines, 4)
			assert.Equal(t, "GET "+tc.basePath+"/pods HTTP/1.1", w.lines[0])
			assert.Equal(t, "Host: kubernetes", w.lines[1])
			assert.Equal(t, "X-Remote-User: "+tc.identity, w.lines[2])
			assert.Equal(t, "", w.lines[3])

			var hosts, users int
			for _, l := range w.lines {
				if strings.HasPrefix(l, "Host:") {
					hosts++
				}
				if strings.HasPrefix(l, "X-Remote-User:") {
					users++
				}
			}
			assert.Equal(t, 1, hosts)
			assert.Equal(t, 1, users)
		})
	}
}

func TestRequestHostCarriesNonDefaultPort(t *testing.T) {
	cfg := shared.DefaultProbeConfig()
	cfg.Host = "10.96.0.1"
	cfg.Port = 6443

	assert.Equal(t, "Host: 10.96.0.1:6443", NewRequest(cfg).Lines()[1])
}

func TestRequestHostBracketsIPv6(t *testing.T) {
	cfg := shared.DefaultProbeConfig()
	cfg.Host = "fd00::1"

	assert.Equal(t, "Host: [fd00::1]", NewRequest(cfg).Lines()[1])

	cfg.Port = 6443
	assert.Equal(t, "Host: [fd00::1]:6443", NewRequest(cfg).Lines()[1])
}

func TestRequestExtraLinesAreVerbatim(t *testing.T) {
	cfg := shared.DefaultProbeConfig()
	cfg.ExtraHeaders = []string{"X-Remote-Group: system:masters", "not a header at all"}

	lines := NewRequest(cfg).Lines()
	assert.Equal(t, []string{
		"GET /apis/metrics.k8s.io/v1beta1/pods HTTP/1.1",
		"Host: kubernetes",
		"X-Remote-User: system:serviceaccount:kube-system:horizontal-pod-autoscaler",
		"X-Remote-Group: system:masters",
		"not a header at all",
		"",
	}, lines)
}
