package channel

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"remoteuser-probe/shared"
	"sync"
	"time"
)

const crlf = "\r\n"

// Stream is a line-oriented view of an established connection. Writes are
// buffered until Flush; reads return whole lines including the terminator.
type Stream struct {
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer

	closeOnce sync.Once
	closeErr  error
}

// NewStream wraps conn. For a TLS stream conn is the *tls.Conn, whose Close
// also closes the TCP connection underneath.
func NewStream(conn net.Conn) *Stream {
	return &Stream{
		conn: conn,
		br:   bufio.NewReader(conn),
		bw:   bufio.NewWriter(conn),
	}
}

// WriteLine queues line followed by CRLF. The line is written verbatim:
// no validation or sanitising happens, so malformed headers stay expressible.
func (s *Stream) WriteLine(line string) error {
	if _, err := s.bw.WriteString(line); err != nil {
		return err
	}
	_, err := s.bw.WriteString(crlf)
	return err
}

// Flush sends everything queued by WriteLine.
func (s *Stream) Flush() error {
	return s.bw.Flush()
}

// ReadLine returns the next line with its terminator. If the peer closes the
// stream before a newline arrives the result is an end-of-stream error; a
// partial trailing line is discarded.
func (s *Stream) ReadLine() (string, error) {
	return s.readLine(false)
}

// ReadLastLine is ReadLine for the final line of a response, which a peer may
// send without a terminator before closing. Unterminated bytes at EOF are
// returned as the line; only an empty read is an end-of-stream error.
func (s *Stream) ReadLastLine() (string, error) {
	return s.readLine(true)
}

func (s *Stream) readLine(acceptUnterminated bool) (string, error) {
	line, err := s.br.ReadString('\n')
	if err == nil {
		return line, nil
	}
	if !errors.Is(err, io.EOF) {
		return "", err
	}
	if line == "" {
		return "", shared.NewProbeError(shared.KindEndOfStream, "read line", io.EOF)
	}
	if acceptUnterminated {
		return line, nil
	}
	return "", shared.NewProbeError(shared.KindEndOfStream, "read line",
		fmt.Errorf("%d bytes without terminator: %w", len(line), io.ErrUnexpectedEOF))
}

// SetDeadline bounds every subsequent read and write.
func (s *Stream) SetDeadline(t time.Time) error {
	return s.conn.SetDeadline(t)
}

// Conn exposes the wrapped connection, e.g. to hand it to another protocol.
func (s *Stream) Conn() net.Conn {
	return s.conn
}

// RemoteAddr of the wrapped connection.
func (s *Stream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// Close tears down the connection. Only the first call reaches the
// connection; later calls return the same result.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
