package shared

import (
	"errors"
	"fmt"
)

// ErrorKind classifies probe failures. None of them are retried.
type ErrorKind int

const (
	KindConnection  ErrorKind = iota // transport connect failed
	KindHandshake                    // TLS negotiation failed
	KindEndOfStream                  // peer closed before the expected lines arrived
	KindDecode                       // payload line is not valid JSON
	KindConfig
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindHandshake:
		return "handshake error"
	case KindEndOfStream:
		return "end of stream"
	case KindDecode:
		return "decode error"
	case KindConfig:
		return "config error"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is. A *ProbeError matches the sentinel of its kind.
var (
	ErrConnection  = errors.New("connection error")
	ErrHandshake   = errors.New("handshake error")
	ErrEndOfStream = errors.New("end of stream")
	ErrDecode      = errors.New("decode error")
	ErrConfig      = errors.New("config error")
)

// ProbeError carries the failing step and the underlying cause.
type ProbeError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func NewProbeError(kind ErrorKind, op string, err error) *ProbeError {
	return &ProbeError{Kind: kind, Op: op, Err: err}
}

func (e *ProbeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

func (e *ProbeError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindHandshake:
		return ErrHandshake
	case KindEndOfStream:
		return ErrEndOfStream
	case KindDecode:
		return ErrDecode
	case KindConfig:
		return ErrConfig
	default:
		return nil
	}
}

// KindOf reports the kind of the first *ProbeError in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *ProbeError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}
