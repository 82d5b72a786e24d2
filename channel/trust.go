package channel

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"remoteuser-probe/shared"
)

// TLSConfig builds the client configuration for serverName under the given
// trust mode. TrustSystem leaves RootCAs nil so the platform pool is used.
func TLSConfig(serverName string, mode shared.TrustMode, caFile string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName: serverName,
		MinVersion: tls.VersionTLS12,
	}

	switch mode {
	case shared.TrustSystem, "":
	case shared.TrustInsecure:
		cfg.InsecureSkipVerify = true
	case shared.TrustCAFile:
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, shared.NewProbeError(shared.KindConfig, "read CA file", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, shared.NewProbeError(shared.KindConfig, "load CA file",
				fmt.Errorf("no PEM certificates in %s", caFile))
		}
		cfg.RootCAs = pool
	default:
		return nil, shared.NewProbeError(shared.KindConfig, "select trust mode",
			fmt.Errorf("unknown trust mode %q", mode))
	}

	return cfg, nil
}
