package probe

import (
	"fmt"
	"io"
	"remoteuser-probe/shared"

	"go.uber.org/zap"
)

// Result is everything the exchange read back.
type Result struct {
	HeaderLines []string // verbatim, terminators included
	Separator   string
	Payload     *Payload
}

// StatusLine is the first header line, or "" when none were read.
func (r *Result) StatusLine() string {
	if len(r.HeaderLines) == 0 {
		return ""
	}
	return r.HeaderLines[0]
}

// Exchanger sends the probe request over a stream and echoes the response.
type Exchanger struct {
	request     Request
	headerLines int
	out         io.Writer
	logger      *shared.Logger
}

func NewExchanger(cfg *shared.ProbeConfig, out io.Writer, logger *shared.Logger) *Exchanger {
	if logger == nil {
		logger = shared.NewNopLogger()
	}
	return &Exchanger{
		request:     NewRequest(cfg),
		headerLines: cfg.HeaderLines,
		out:         out,
		logger:      logger,
	}
}

// Request returns the request the exchanger sends.
func (e *Exchanger) Request() Request {
	return e.request
}

// Run writes the request, then reads the fixed number of header lines, one
// separator line and one payload line. Only the payload line may be
// unterminated. Header and separator lines are
// written to the output as they arrive; the payload is written indented
// once it decodes. On failure the partial Result is returned with the error.
func (e *Exchanger) Run(stream LineStream) (*Result, error) {
	if err := e.request.WriteTo(stream); err != nil {
		return nil, err
	}
	if err := stream.Flush(); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	e.logger.Debug("Request sent",
		zap.String("target", e.request.Target),
		zap.String("identity", e.request.Identity))

	result := &Result{HeaderLines: make([]string, 0, e.headerLines)}

	for i := 0; i < e.headerLines; i++ {
		line, err := e.readLine(stream, fmt.Sprintf("header line %d", i+1))
		if err != nil {
			return result, err
		}
		result.HeaderLines = append(result.HeaderLines, line)
	}

	separator, err := e.readLine(stream, "separator line")
	if err != nil {
		return result, err
	}
	result.Separator = separator

	// The payload may end at EOF instead of a newline.
	line, err := stream.ReadLastLine()
	if err != nil {
		return result, annotate(err, "payload line")
	}
	payload, err := DecodePayload(line)
	if err != nil {
		e.logger.Error("Payload is not JSON", zap.Error(err), zap.Int("bytes", len(line)))
		return result, err
	}
	result.Payload = payload

	if _, err := fmt.Fprintf(e.out, "%s\n", payload.Pretty); err != nil {
		return result, err
	}
	return result, nil
}

// readLine reads one line and echoes it verbatim.
func (e *Exchanger) readLine(stream LineStream, what string) (string, error) {
	line, err := stream.ReadLine()
	if err != nil {
		return "", annotate(err, what)
	}
	if _, err := io.WriteString(e.out, line); err != nil {
		return "", err
	}
	return line, nil
}

func annotate(err error, what string) error {
	return fmt.Errorf("failed to read %s: %w", what, err)
}
