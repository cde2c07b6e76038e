package bot_test

import (
	"bufio"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/presbrey/ircbot/bot"
	"github.com/stretchr/testify/assert"
)

func init() {
	log.SetFlags(log.Lshortfile | log.Lmicroseconds)
}

// ircServer is a scripted server side for exercising the client engine.
// Tests accept sessions from it and drive the protocol by hand.
type ircServer struct {
	t        *testing.T
	listener net.Listener
	sessions chan *ircSession

	mu     sync.Mutex
	conns  []net.Conn
	closed bool
}

func newIRCServer(t *testing.T) *ircServer {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	s := &ircServer{
		t:        t,
		listener: listener,
		sessions: make(chan *ircSession, 8),
	}
	go s.acceptLoop()
	t.Cleanup(s.Close)
	return s
}

func (s *ircServer) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		s.sessions <- &ircSession{t: s.t, conn: conn, reader: bufio.NewReader(conn)}
	}
}

// HostPort returns the listen address split for NewServerConfig.
func (s *ircServer) HostPort() (string, int) {
	addr := s.listener.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port
}

// Accept waits for the next client connection.
func (s *ircServer) Accept(timeout time.Duration) *ircSession {
	select {
	case sess := <-s.sessions:
		return sess
	case <-time.After(timeout):
		s.t.Fatalf("No client connected within %s", timeout)
		return nil
	}
}

func (s *ircServer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.listener.Close()
	for _, conn := range s.conns {
		conn.Close()
	}
}

// ircSession is one accepted client connection with line helpers.
type ircSession struct {
	t      *testing.T
	conn   net.Conn
	reader *bufio.Reader
}

// Send writes one protocol line to the client.
func (s *ircSession) Send(line string) {
	if _, err := s.conn.Write([]byte(line + "\r\n")); err != nil {
		s.t.Logf("Server write failed: %v", err)
	}
}

// SendRaw writes bytes verbatim, for packing several lines into one
// segment.
func (s *ircSession) SendRaw(payload string) {
	if _, err := s.conn.Write([]byte(payload)); err != nil {
		s.t.Logf("Server write failed: %v", err)
	}
}

// ReadLine returns the next line from the client with the line ending
// trimmed.
func (s *ircSession) ReadLine(timeout time.Duration) (string, error) {
	s.conn.SetReadDeadline(time.Now().Add(timeout))
	defer s.conn.SetReadDeadline(time.Time{})

	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Expect reads lines until one contains the expected substring.
func (s *ircSession) Expect(expected string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", fmt.Errorf("timed out waiting for %q", expected)
		}
		line, err := s.ReadLine(remaining)
		if err != nil {
			return "", err
		}
		if strings.Contains(line, expected) {
			return line, nil
		}
	}
}

// Login consumes the NICK/USER handshake and replies with the welcome
// numeric. Returns the nick the client registered with.
func (s *ircSession) Login() string {
	nickLine, err := s.Expect("NICK ", 5*time.Second)
	if err != nil {
		s.t.Fatalf("Expected NICK from client: %v", err)
	}
	nick := strings.TrimPrefix(nickLine, "NICK ")

	if _, err := s.Expect("USER ", 5*time.Second); err != nil {
		s.t.Fatalf("Expected USER from client: %v", err)
	}

	s.Send(":irc.test 001 " + nick + " :Welcome to the test network")
	return nick
}

func (s *ircSession) Close() {
	s.conn.Close()
}

// testServerConfig builds a config pointed at the scripted server with
// timings tightened for tests.
func testServerConfig(t *testing.T, s *ircServer, channels []string, keys []string) bot.ServerConfig {
	host, port := s.HostPort()
	if len(channels) == 0 {
		channels = []string{"#testing"}
	}
	cfg, err := bot.NewServerConfig("testnet", host, port, channels, keys, false, false)
	assert.NoError(t, err, "Should build the server config")

	cfg.ReconnectInitial = 50 * time.Millisecond
	cfg.ReconnectMax = 200 * time.Millisecond
	cfg.AuthTimeout = 2 * time.Second
	return cfg
}

// startConn runs the connection loop in the background and stops it when
// the test finishes.
func startConn(t *testing.T, c *bot.Conn) chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run()
	}()
	t.Cleanup(func() {
		c.Stop()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Logf("Connection loop for %s did not exit", c.Name())
		}
	})
	return done
}
