package bot

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	defaultDialTimeout   = 30 * time.Second
	defaultAuthTimeout   = 30 * time.Second
	defaultKeepaliveIdle = 120 * time.Second
	defaultSendWait      = 5 * time.Second
	readPoll             = 1 * time.Second
	writeTimeout         = 10 * time.Second

	// maxLineLength is the practical IRC line limit including CRLF.
	maxLineLength = 512

	maxNickAttempts = 3
)

// criticalCommands bypass the rate limiter: they keep the session alive
// or end it, and must never queue behind chat traffic.
var criticalCommands = map[string]bool{
	"PONG": true,
	"QUIT": true,
	"NICK": true,
	"USER": true,
}

// DialFunc opens the transport for a connection attempt. The default
// dials TCP directly; tests and SSH tunnels substitute their own.
type DialFunc func(network, addr string) (net.Conn, error)

// Conn maintains one IRC server session: it dials, logs in, joins the
// configured channels, then keeps reading until the session drops and
// reconnects with exponential backoff. Inbound traffic is surfaced
// through registered callbacks.
type Conn struct {
	sync.RWMutex
	cfg       ServerConfig
	nick      string // current nick; may gain a suffix after a 433
	user      string
	realName  string
	conn      net.Conn
	reader    *lineReader
	writer    *bufio.Writer
	connected bool
	usingTLS  bool
	sessionID string
	lastPing  time.Time // last proof of liveness in either direction

	limiter   *RateLimiter
	callbacks *callbackRegistry
	logger    *log.Logger
	metrics   *Metrics
	enc       *lineEncoding
	debug     bool

	dial      DialFunc
	writeLock sync.Mutex

	stop     chan struct{}
	stopOnce sync.Once

	dialTimeout   time.Duration
	authTimeout   time.Duration
	keepaliveIdle time.Duration
	sendWait      time.Duration
	backoff       *reconnectBackoff
}

// NewConn builds a connection for one server. Nothing is dialed until
// Run is called.
func NewConn(cfg ServerConfig, settings Settings) *Conn {
	base := settings.baseLogger()

	c := &Conn{
		cfg:           cfg,
		nick:          settings.Nick,
		user:          settings.username(),
		realName:      settings.RealName,
		limiter:       NewRateLimiter(settings.RateBurst, settings.RateRefill),
		callbacks:     newCallbackRegistry(),
		logger:        log.New(base.Writer(), "["+cfg.Name+"] ", base.Flags()),
		debug:         settings.Debug,
		stop:          make(chan struct{}),
		dialTimeout:   cfg.DialTimeout,
		authTimeout:   cfg.AuthTimeout,
		keepaliveIdle: cfg.KeepaliveIdle,
		sendWait:      defaultSendWait,
		backoff:       newReconnectBackoff(cfg.ReconnectInitial, cfg.ReconnectMax),
	}
	if c.nick == "" {
		c.nick = "ircbot"
	}
	if c.user == "" {
		c.user = c.nick
	}
	if c.realName == "" {
		c.realName = c.nick
	}
	if c.dialTimeout <= 0 {
		c.dialTimeout = defaultDialTimeout
	}
	if c.authTimeout <= 0 {
		c.authTimeout = defaultAuthTimeout
	}
	if c.keepaliveIdle <= 0 {
		c.keepaliveIdle = defaultKeepaliveIdle
	}

	enc, err := newLineEncoding(cfg.Encoding)
	if err != nil {
		c.logger.Printf("%v, falling back to UTF-8", err)
	}
	c.enc = enc

	return c
}

// Run drives the connection loop until Stop is requested: dial, log in,
// join, then serve the reader and keepalive loops, backing off between
// attempts. The backoff resets every time the session reaches its
// channels.
func (c *Conn) Run() {
	for {
		if c.stopped() {
			return
		}

		if err := c.establish(); err != nil {
			c.logger.Printf("%v", err)
			c.closeConn()
		} else {
			c.joinChannels()
			c.backoff.Reset()
			c.serve()
		}

		if c.stopped() {
			return
		}
		delay := c.backoff.Next()
		c.logger.Printf("Reconnecting in %s", delay)
		if !c.sleep(delay) {
			return
		}
	}
}

// Stop ends the run loop permanently and closes the current session
// without a QUIT. Call Quit first for a graceful exit.
func (c *Conn) Stop() {
	c.requestStop()
	c.closeConn()
}

func (c *Conn) requestStop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
}

func (c *Conn) stopped() bool {
	select {
	case <-c.stop:
		return true
	default:
		return false
	}
}

// sleep waits for d or until a stop is requested, reporting false when
// stopped.
func (c *Conn) sleep(d time.Duration) bool {
	select {
	case <-c.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (c *Conn) establish() error {
	if err := c.connect(); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	if err := c.login(); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	return nil
}

// connect dials the server (through the configured dial function) and
// performs the TLS handshake when enabled.
func (c *Conn) connect() error {
	addr := c.cfg.Addr()
	session := uuid.New().String()

	c.Lock()
	c.sessionID = session
	c.Unlock()
	if c.metrics != nil {
		c.metrics.Reconnects.WithLabelValues(c.cfg.Name).Inc()
	}

	c.logger.Printf("Connecting to %s (session %s)", addr, session[:8])

	netConn, err := c.dialFunc()("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	if c.cfg.TLS {
		tlsConf := &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: c.cfg.Host,
		}
		if c.cfg.AllowInsecureTLS {
			tlsConf.InsecureSkipVerify = true
			c.logger.Printf("WARNING: TLS certificate verification disabled for %s", addr)
		}

		tlsConn := tls.Client(netConn, tlsConf)
		tlsConn.SetDeadline(time.Now().Add(c.dialTimeout))
		if err := tlsConn.Handshake(); err != nil {
			netConn.Close()
			return fmt.Errorf("tls handshake with %s: %w", addr, err)
		}
		tlsConn.SetDeadline(time.Time{})

		state := tlsConn.ConnectionState()
		c.logger.Printf("TLS established: %s, %s",
			tls.VersionName(state.Version), tls.CipherSuiteName(state.CipherSuite))
		netConn = tlsConn
	}

	now := time.Now()
	c.Lock()
	c.conn = netConn
	c.reader = newLineReader(netConn)
	c.writer = bufio.NewWriter(netConn)
	c.connected = true
	c.usingTLS = c.cfg.TLS
	c.lastPing = now
	c.Unlock()

	if c.metrics != nil {
		c.metrics.Connected.WithLabelValues(c.cfg.Name).Set(1)
	}
	c.logger.Printf("*** Connected to %s", addr)
	return nil
}

func (c *Conn) dialFunc() DialFunc {
	c.RLock()
	defer c.RUnlock()
	if c.dial != nil {
		return c.dial
	}
	timeout := c.dialTimeout
	return func(network, addr string) (net.Conn, error) {
		return net.DialTimeout(network, addr, timeout)
	}
}

// login performs the NICK/USER handshake and waits for a welcome
// numeric. Any of 001, 376, or 422 counts as a successful login; 020
// means the server is still processing, 433 retries with a suffixed
// nick, and the attempt fails when no bytes arrive for authTimeout.
func (c *Conn) login() error {
	base := c.Nick()
	c.logger.Printf("Logging in as %s", base)
	c.SendRaw("NICK " + base)
	c.SendRaw(fmt.Sprintf("USER %s 0 * :%s", c.user, c.realName))

	nickAttempts := 0
	for {
		if c.stopped() {
			return errors.New("stopped during login")
		}

		line, err := c.readLine()
		if err != nil {
			if errors.Is(err, errReadTimeout) {
				if time.Since(c.lastDataTime()) > c.authTimeout {
					return fmt.Errorf("no response from server within %s", c.authTimeout)
				}
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
		if line == "" {
			continue
		}
		c.touch()
		if c.debug {
			c.logger.Printf("<= %s", line)
		}

		if strings.HasPrefix(line, "PING") {
			c.SendRaw(strings.Replace(line, "PING", "PONG", 1))
			continue
		}

		msg := ParseMessage(line)
		if msg == nil {
			continue
		}
		code, ok := numericCode(msg.Command)
		if !ok {
			continue
		}

		switch code {
		case 1, 376, 422:
			c.logger.Printf("*** Logged in as %s", c.Nick())
			return nil
		case 20:
			// Server is still processing the connection; keep waiting
		case 433:
			nickAttempts++
			if nickAttempts > maxNickAttempts {
				return fmt.Errorf("nickname %s in use, giving up", c.Nick())
			}
			alt := fmt.Sprintf("%s%d", c.nickBase(), (time.Now().Unix()+int64(nickAttempts))%1000)
			c.logger.Printf("Nickname %s in use, trying %s", c.Nick(), alt)
			c.setNick(alt)
			c.SendRaw("NICK " + alt)
		}
	}
}

// joinChannels issues a JOIN for every configured channel, passing the
// channel key when one is set.
func (c *Conn) joinChannels() {
	for i, channel := range c.cfg.Channels {
		key := ""
		if i < len(c.cfg.Keys) {
			key = c.cfg.Keys[i]
		}
		if key != "" {
			c.logger.Printf("Joining %s (with key)", channel)
			c.SendRaw(fmt.Sprintf("JOIN %s %s", channel, key))
		} else {
			c.logger.Printf("Joining %s", channel)
			c.SendRaw("JOIN " + channel)
		}
	}
}

// serve runs the reader and keepalive loops until the session drops or a
// stop is requested, then tears the socket down.
func (c *Conn) serve() {
	readerDone := make(chan struct{})
	keepaliveDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		c.readLoop()
	}()
	go func() {
		defer close(keepaliveDone)
		c.keepaliveLoop(readerDone)
	}()

	select {
	case <-readerDone:
	case <-c.stop:
	}
	c.closeConn()
	<-readerDone
	<-keepaliveDone
}

func (c *Conn) readLoop() {
	for {
		if c.stopped() || !c.IsConnected() {
			return
		}

		line, err := c.readLine()
		if err != nil {
			if errors.Is(err, errReadTimeout) {
				continue
			}
			if c.stopped() {
				return
			}
			c.logger.Printf("Read error: %v", err)
			c.markDisconnected()
			return
		}
		if line == "" {
			continue
		}
		c.touch()
		c.handleLine(line)
	}
}

// handleLine answers PING inline before anything else sees the line,
// then feeds the raw tap and the parsed event handlers.
func (c *Conn) handleLine(line string) {
	if c.debug {
		c.logger.Printf("<= %s", line)
	}

	if strings.HasPrefix(line, "PING") {
		c.SendRaw(strings.Replace(line, "PING", "PONG", 1))
	}

	c.callbacks.dispatch(c, Event{Kind: EventRaw, Raw: line})

	if ev, ok := extractEvent(ParseMessage(line), line); ok {
		c.callbacks.dispatch(c, ev)
	}
}

// keepaliveLoop pings the server when the line has been quiet for too
// long, so half-dead connections get noticed by the reader.
func (c *Conn) keepaliveLoop(readerDone <-chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-readerDone:
			return
		case <-ticker.C:
		}

		if !c.IsConnected() {
			return
		}
		if time.Since(c.lastPingTime()) > c.keepaliveIdle {
			c.logger.Printf("No activity for %s, sending keepalive ping", c.keepaliveIdle)
			c.SendRaw("PING :keepalive")
			c.touch()
		}
	}
}

// readLine fetches the next inbound line, decoded to UTF-8 when a legacy
// encoding is configured.
func (c *Conn) readLine() (string, error) {
	c.RLock()
	reader := c.reader
	c.RUnlock()
	if reader == nil {
		return "", net.ErrClosed
	}

	line, err := reader.next(readPoll)
	if err != nil {
		return "", err
	}
	if c.metrics != nil {
		c.metrics.LinesReceived.WithLabelValues(c.cfg.Name).Inc()
	}
	if c.enc != nil {
		line = c.enc.decode(line)
	}
	return line, nil
}

// lastDataTime reports when the server last sent any bytes, complete
// line or not.
func (c *Conn) lastDataTime() time.Time {
	c.RLock()
	reader := c.reader
	c.RUnlock()
	if reader == nil {
		return time.Time{}
	}
	return reader.dataTime
}

func (c *Conn) touch() {
	c.Lock()
	c.lastPing = time.Now()
	c.Unlock()
}

func (c *Conn) lastPingTime() time.Time {
	c.RLock()
	defer c.RUnlock()
	return c.lastPing
}

// markDisconnected flips the connected flag once per session and lets
// disconnect handlers run.
func (c *Conn) markDisconnected() {
	c.Lock()
	was := c.connected
	c.connected = false
	c.Unlock()
	if !was {
		return
	}

	if c.metrics != nil {
		c.metrics.Connected.WithLabelValues(c.cfg.Name).Set(0)
	}
	c.logger.Printf("*** Disconnected from %s", c.cfg.Addr())
	c.callbacks.dispatch(c, Event{Kind: EventDisconnect})
}

func (c *Conn) closeConn() {
	c.Lock()
	conn := c.conn
	c.conn = nil
	c.reader = nil
	c.writer = nil
	c.Unlock()

	if conn != nil {
		conn.Close()
	}
	c.markDisconnected()
}

// Quit sends QUIT with the given message and closes the socket. The run
// loop reconnects afterwards unless a stop was requested first.
func (c *Conn) Quit(message string) {
	if message == "" {
		message = "Disconnecting"
	}
	if c.IsConnected() {
		c.SendRaw("QUIT :" + message)
		// Give the server a moment to read the QUIT before the socket drops
		time.Sleep(500 * time.Millisecond)
	}
	c.closeConn()
}

// RegisterCallback subscribes a handler to an event kind. Handlers for
// the same kind run in registration order; unknown kinds and mismatched
// signatures are logged and ignored.
func (c *Conn) RegisterCallback(kind EventKind, handler any) {
	if handler == nil {
		return
	}
	if !c.callbacks.register(kind, handler) {
		c.logger.Printf("Ignoring %s handler with unsupported type %T", kind, handler)
	}
}

// RegisterHandlerSet registers every non-nil handler in the set.
func (c *Conn) RegisterHandlerSet(hs HandlerSet) {
	if hs.Raw != nil {
		c.RegisterCallback(EventRaw, hs.Raw)
	}
	if hs.Message != nil {
		c.RegisterCallback(EventMessage, hs.Message)
	}
	if hs.Notice != nil {
		c.RegisterCallback(EventNotice, hs.Notice)
	}
	if hs.Join != nil {
		c.RegisterCallback(EventJoin, hs.Join)
	}
	if hs.Part != nil {
		c.RegisterCallback(EventPart, hs.Part)
	}
	if hs.Quit != nil {
		c.RegisterCallback(EventQuit, hs.Quit)
	}
	if hs.Numeric != nil {
		c.RegisterCallback(EventNumeric, hs.Numeric)
	}
	if hs.Disconnect != nil {
		c.RegisterCallback(EventDisconnect, hs.Disconnect)
	}
}

// SendRaw writes one protocol line. Liveness-critical commands (PONG,
// QUIT, NICK, USER) skip the rate limiter; everything else waits up to
// five seconds for a token and is dropped when none arrives.
func (c *Conn) SendRaw(line string) {
	if !c.IsConnected() {
		c.logger.Printf("Not connected, dropping: %s", line)
		c.noteDropped()
		return
	}
	if !isCriticalCommand(line) && !c.limiter.WaitForCapacity(c.sendWait) {
		c.logger.Printf("Rate limit exceeded, dropping: %s", line)
		c.noteDropped()
		return
	}
	c.writeRaw(line)
}

// SendMessage sends a PRIVMSG to a channel or nick, truncating the text
// so the full line stays within the IRC line limit.
func (c *Conn) SendMessage(target, text string) {
	c.sendChat("PRIVMSG", target, text)
}

// SendNotice sends a NOTICE to a channel or nick.
func (c *Conn) SendNotice(target, text string) {
	c.sendChat("NOTICE", target, text)
}

func (c *Conn) sendChat(command, target, text string) {
	budget := maxLineLength - len(command) - len(target) - len(" ") - len(" :") - len("\r\n")
	if budget < 0 {
		budget = 0
	}
	if len(text) > budget {
		c.logger.Printf("Truncating %d byte message to %s", len(text), target)
		text = text[:budget]
		for len(text) > 0 && !utf8.ValidString(text) {
			text = text[:len(text)-1]
		}
	}
	c.SendRaw(fmt.Sprintf("%s %s :%s", command, target, text))
}

func (c *Conn) writeRaw(line string) {
	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	c.RLock()
	conn, writer := c.conn, c.writer
	c.RUnlock()
	if conn == nil || writer == nil {
		return
	}

	payload := line
	if c.enc != nil {
		payload = c.enc.encode(line)
	}

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := writer.WriteString(payload + "\r\n")
	if err == nil {
		err = writer.Flush()
	}
	if err != nil {
		c.logger.Printf("Write failed: %v", err)
		c.markDisconnected()
		return
	}

	if c.debug {
		c.logger.Printf("=> %s", line)
	}
	if c.metrics != nil {
		c.metrics.LinesSent.WithLabelValues(c.cfg.Name).Inc()
	}
}

func (c *Conn) noteDropped() {
	if c.metrics != nil {
		c.metrics.SendsDropped.WithLabelValues(c.cfg.Name).Inc()
	}
}

func (c *Conn) noteHandlerPanic(kind EventKind) {
	if c.metrics != nil {
		c.metrics.HandlerPanics.WithLabelValues(c.cfg.Name, string(kind)).Inc()
	}
}

// nickBase returns the configured nick without any collision suffix.
func (c *Conn) nickBase() string {
	c.RLock()
	defer c.RUnlock()
	return strings.TrimRight(c.nick, "0123456789")
}

func isCriticalCommand(line string) bool {
	command, _, _ := strings.Cut(line, " ")
	return criticalCommands[strings.ToUpper(command)]
}
