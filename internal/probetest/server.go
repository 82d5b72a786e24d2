// Package probetest provides scripted TLS peers for exercising the probe
// without a cluster.
package probetest

import (
	"bufio"
	"crypto/tls"
	"encoding/pem"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// LineServer accepts TLS connections, reads one request up to its blank
// line and answers with a scripted response before closing.
type LineServer struct {
	Host   string
	Port   int
	CAFile string // PEM of the server certificate, valid for 127.0.0.1

	listener net.Listener
	response string
	requests chan []string
	wg       sync.WaitGroup
}

// NewLineServer starts a LineServer that answers every connection with response.
func NewLineServer(t testing.TB, response string) *LineServer {
	t.Helper()

	tlsConfig, caFile := serverTLS(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", tlsConfig)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &LineServer{
		Host:     "127.0.0.1",
		Port:     ln.Addr().(*net.TCPAddr).Port,
		CAFile:   caFile,
		listener: ln,
		response: response,
		requests: make(chan []string, 16),
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *LineServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

func (s *LineServer) handle(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))

	br := bufio.NewReader(conn)
	var lines []string
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return
		}
		lines = append(lines, line)
		if line == "\r\n" {
			break
		}
	}
	s.requests <- lines
	conn.Write([]byte(s.response))
}

// Request returns the raw lines of the next request the server read,
// terminators included.
func (s *LineServer) Request(t testing.TB) []string {
	t.Helper()
	select {
	case lines := <-s.requests:
		return lines
	case <-time.After(5 * time.Second):
		t.Fatal("no request received")
		return nil
	}
}

// Close stops accepting and waits for in-flight connections.
func (s *LineServer) Close() {
	s.listener.Close()
	s.wg.Wait()
}

// NewPlainServer starts a TCP listener that speaks cleartext HTTP, so a TLS
// client handshake against it fails. It returns the port.
func NewPlainServer(t testing.TB) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Write([]byte("HTTP/1.1 400 Bad Request\r\nConnection: close\r\n\r\n"))
			conn.Close()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		<-done
	})
	return ln.Addr().(*net.TCPAddr).Port
}

// ClosedPort returns a loopback port with nothing listening on it.
func ClosedPort(t testing.TB) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

// ResponseLines joins lines with CRLF terminators.
func ResponseLines(lines ...string) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\r\n")
	}
	return b.String()
}

// serverTLS borrows the httptest certificate and writes it out as a CA file.
func serverTLS(t testing.TB) (*tls.Config, string) {
	t.Helper()
	hs := httptest.NewUnstartedServer(http.NotFoundHandler())
	hs.StartTLS()
	cfg := hs.TLS.Clone()
	cert := hs.Certificate()
	hs.Close()

	cfg.NextProtos = nil

	caFile := filepath.Join(t.TempDir(), "ca.pem")
	pemData := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	if err := os.WriteFile(caFile, pemData, 0o600); err != nil {
		t.Fatalf("write CA file: %v", err)
	}
	return cfg, caFile
}
