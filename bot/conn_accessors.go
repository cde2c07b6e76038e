package bot

// Accessor methods for connection state shared across goroutines

// Name returns the configured server name.
func (c *Conn) Name() string {
	return c.cfg.Name
}

// Config returns the server configuration the connection was built from.
func (c *Conn) Config() ServerConfig {
	return c.cfg
}

// Nick returns the nick currently in use, including any collision suffix.
func (c *Conn) Nick() string {
	c.RLock()
	defer c.RUnlock()
	return c.nick
}

func (c *Conn) setNick(nick string) {
	c.Lock()
	defer c.Unlock()
	c.nick = nick
}

// IsConnected reports whether a server session is currently established.
func (c *Conn) IsConnected() bool {
	c.RLock()
	defer c.RUnlock()
	return c.connected
}

// IsTLS reports whether the current session runs over TLS.
func (c *Conn) IsTLS() bool {
	c.RLock()
	defer c.RUnlock()
	return c.usingTLS
}

// SessionID returns the identifier of the current connection attempt.
func (c *Conn) SessionID() string {
	c.RLock()
	defer c.RUnlock()
	return c.sessionID
}

// SetDialFunc replaces the transport dialer, e.g. with an SSH tunnel.
// Takes effect on the next connection attempt.
func (c *Conn) SetDialFunc(dial DialFunc) {
	c.Lock()
	defer c.Unlock()
	c.dial = dial
}
