package shared

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Helper functions for environment variable handling
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func GetEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func GetEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func GetEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// TrustMode selects how the server certificate is verified during the handshake.
type TrustMode string

const (
	TrustSystem   TrustMode = "system"   // platform root pool
	TrustInsecure TrustMode = "insecure" // no verification, for self-signed cluster endpoints
	TrustCAFile   TrustMode = "ca-file"  // PEM bundle from CAFile
)

const (
	DefaultHost     = "kubernetes"
	DefaultPort     = 443
	DefaultBasePath = "/apis/metrics.k8s.io/v1beta1"
	DefaultSuffix   = "/pods"
	DefaultIdentity = "system:serviceaccount:kube-system:horizontal-pod-autoscaler"
	DefaultProtocol = "HTTP/1.1"

	// ExpectedHeaderLineCount is how many response lines are read and echoed
	// before the separator line. It assumes the target answers with a status
	// line plus five headers (the metrics API behind the aggregator does), and
	// is not derived from anything on the wire.
	ExpectedHeaderLineCount = 6
)

// ProbeConfig contains everything the channel and the exchanger need.
type ProbeConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	BasePath     string        `yaml:"basePath"`
	PathSuffix   string        `yaml:"pathSuffix"`
	Identity     string        `yaml:"identity"`
	Protocol     string        `yaml:"protocol"`
	HeaderLines  int           `yaml:"headerLines"`
	ExtraHeaders []string      `yaml:"extraHeaders"` // written verbatim after X-Remote-User
	Trust        TrustMode     `yaml:"trust"`
	CAFile       string        `yaml:"caFile"`
	Select       string        `yaml:"select"` // optional JSONPath over the payload
	Upgrade      bool          `yaml:"upgrade"`
	Timeout      time.Duration `yaml:"timeout"` // zero means block forever
}

// DefaultProbeConfig returns the built-in target.
func DefaultProbeConfig() *ProbeConfig {
	return &ProbeConfig{
		Host:        DefaultHost,
		Port:        DefaultPort,
		BasePath:    DefaultBasePath,
		PathSuffix:  DefaultSuffix,
		Identity:    DefaultIdentity,
		Protocol:    DefaultProtocol,
		HeaderLines: ExpectedHeaderLineCount,
		Trust:       TrustSystem,
	}
}

// Target is the request path: base path followed by the suffix.
func (c *ProbeConfig) Target() string {
	return c.BasePath + c.PathSuffix
}

// Address is host:port as passed to the dialer, with IPv6 literals bracketed.
func (c *ProbeConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoadProbeConfig builds the configuration from defaults, an optional YAML
// profile (PROBE_CONFIG_FILE), an optional .env file and PROBE_* variables,
// in that order of precedence from lowest to highest.
func LoadProbeConfig() (*ProbeConfig, error) {
	cfg := DefaultProbeConfig()

	// .env is optional; variables already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, NewProbeError(KindConfig, "load .env", err)
	}

	if path := os.Getenv("PROBE_CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ProbeConfig) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return NewProbeError(KindConfig, "read config file", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return NewProbeError(KindConfig, "parse config file", err)
	}
	return nil
}

func (c *ProbeConfig) applyEnv() {
	c.Host = GetEnvOrDefault("PROBE_HOST", c.Host)
	c.Port = GetEnvIntOrDefault("PROBE_PORT", c.Port)
	c.BasePath = GetEnvOrDefault("PROBE_BASE_PATH", c.BasePath)
	c.PathSuffix = GetEnvOrDefault("PROBE_PATH_SUFFIX", c.PathSuffix)
	c.Identity = GetEnvOrDefault("PROBE_IDENTITY", c.Identity)
	c.Protocol = GetEnvOrDefault("PROBE_PROTOCOL", c.Protocol)
	c.HeaderLines = GetEnvIntOrDefault("PROBE_HEADER_LINES", c.HeaderLines)
	c.Trust = TrustMode(GetEnvOrDefault("PROBE_TLS_TRUST", string(c.Trust)))
	c.CAFile = GetEnvOrDefault("PROBE_CA_FILE", c.CAFile)
	c.Select = GetEnvOrDefault("PROBE_SELECT", c.Select)
	c.Upgrade = GetEnvBoolOrDefault("PROBE_UPGRADE", c.Upgrade)
	c.Timeout = GetEnvDurationOrDefault("PROBE_TIMEOUT", c.Timeout)

	if extra := os.Getenv("PROBE_EXTRA_HEADERS"); extra != "" {
		c.ExtraHeaders = strings.Split(extra, "|")
	}
}

// Validate checks the configuration before any connection is attempted.
func (c *ProbeConfig) Validate() error {
	var problems []string

	if c.Host == "" {
		problems = append(problems, "host is empty")
	}
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", c.Port))
	}
	if c.HeaderLines < 0 {
		problems = append(problems, fmt.Sprintf("header line count %d is negative", c.HeaderLines))
	}
	if c.Identity == "" {
		problems = append(problems, "identity is empty")
	}
	switch c.Trust {
	case TrustSystem, TrustInsecure:
	case TrustCAFile:
		if c.CAFile == "" {
			problems = append(problems, "trust mode ca-file needs a CA file")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown trust mode %q", c.Trust))
	}
	if c.Timeout < 0 {
		problems = append(problems, "timeout is negative")
	}

	if len(problems) > 0 {
		return NewProbeError(KindConfig, "validate config", fmt.Errorf("%s", strings.Join(problems, "; ")))
	}
	return nil
}
