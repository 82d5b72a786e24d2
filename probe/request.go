package probe

import (
	"fmt"
	"remoteuser-probe/shared"
	"strings"
)

// ImpersonationHeader is the identity assertion the probe sends. Aggregated
// API servers honour it when the caller is a trusted front proxy; the probe
// checks whether they also honour it when the caller is not.
const ImpersonationHeader = "X-Remote-User"

// LineWriter is the raw line sink the request is serialized onto. Each call
// writes one line and its CRLF terminator, without any validation.
type LineWriter interface {
	WriteLine(line string) error
}

// LineStream is the encrypted stream as seen by the exchanger.
type LineStream interface {
	LineWriter
	Flush() error
	ReadLine() (string, error)
	ReadLastLine() (string, error)
}

// Request is the single request a probe sends. It has no body.
type Request struct {
	Method   string
	Target   string
	Protocol string
	Host     string
	Identity string
	Extra    []string // raw header lines after the impersonation header
}

func NewRequest(cfg *shared.ProbeConfig) Request {
	host := cfg.Host
	if cfg.Port != shared.DefaultPort {
		host = cfg.Address()
	} else if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return Request{
		Method:   "GET",
		Target:   cfg.Target(),
		Protocol: cfg.Protocol,
		Host:     host,
		Identity: cfg.Identity,
		Extra:    cfg.ExtraHeaders,
	}
}

// Lines returns the request line, headers and the empty terminator line,
// without line endings.
func (r Request) Lines() []string {
	lines := make([]string, 0, 4+len(r.Extra))
	lines = append(lines,
		fmt.Sprintf("%s %s %s", r.Method, r.Target, r.Protocol),
		"Host: "+r.Host,
		ImpersonationHeader+": "+r.Identity,
	)
	lines = append(lines, r.Extra...)
	return append(lines, "")
}

// WriteTo writes every line of the request onto w.
func (r Request) WriteTo(w LineWriter) error {
	for _, line := range r.Lines() {
		if err := w.WriteLine(line); err != nil {
			return fmt.Errorf("failed to write request line: %w", err)
		}
	}
	return nil
}
