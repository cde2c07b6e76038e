// Package tunnel dials outbound TCP connections through an SSH jump
// host, so the bot can reach IRC servers that are only routable from the
// far side of the tunnel.
package tunnel

import (
	"fmt"
	"net"
	"os"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Config holds the SSH jump host connection configuration.
type Config struct {
	User           string
	Password       string
	PrivateKeyPath string
	PrivateKey     string // inline private key, takes precedence over the path
	Host           string
	Port           int
}

// Addr returns the host:port of the jump host, defaulting to port 22.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", c.Host, port)
}

// Dialer opens TCP connections through one SSH jump host. The SSH client
// is established lazily on first use and reused across dials; when it
// dies underneath us the next dial reconnects. Dial satisfies
// bot.DialFunc.
type Dialer struct {
	cfg    Config
	mu     sync.Mutex
	client *ssh.Client
}

// New builds a Dialer for the given jump host.
func New(cfg Config) *Dialer {
	return &Dialer{cfg: cfg}
}

// Dial opens a connection to addr through the jump host.
func (d *Dialer) Dial(network, addr string) (net.Conn, error) {
	client, err := d.clientConn()
	if err != nil {
		return nil, err
	}

	conn, err := client.Dial(network, addr)
	if err != nil {
		d.drop(client)
		return nil, fmt.Errorf("dial %s via %s: %w", addr, d.cfg.Addr(), err)
	}
	return conn, nil
}

// Close tears down the SSH client, if one is up.
func (d *Dialer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil {
		return nil
	}
	err := d.client.Close()
	d.client = nil
	return err
}

func (d *Dialer) clientConn() (*ssh.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		return d.client, nil
	}

	sshConfig, err := d.clientConfig()
	if err != nil {
		return nil, err
	}

	client, err := ssh.Dial("tcp", d.cfg.Addr(), sshConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SSH server %s: %w", d.cfg.Addr(), err)
	}
	d.client = client
	return client, nil
}

// drop forgets the client after a failed dial so the next attempt
// reconnects.
func (d *Dialer) drop(client *ssh.Client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == client {
		d.client.Close()
		d.client = nil
	}
}

// clientConfig assembles SSH authentication from the configured password
// and private key.
func (d *Dialer) clientConfig() (*ssh.ClientConfig, error) {
	sshConfig := &ssh.ClientConfig{
		User:            d.cfg.User,
		Auth:            make([]ssh.AuthMethod, 0),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), // Note: In production, use proper host key verification
	}

	if d.cfg.Password != "" {
		sshConfig.Auth = append(sshConfig.Auth, ssh.Password(d.cfg.Password))
	}

	// Try inline private key first
	if d.cfg.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(d.cfg.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse inline private key: %w", err)
		}
		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	} else if d.cfg.PrivateKeyPath != "" {
		signer, err := loadPrivateKey(d.cfg.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key file: %w", err)
		}
		sshConfig.Auth = append(sshConfig.Auth, ssh.PublicKeys(signer))
	}

	if len(sshConfig.Auth) == 0 {
		return nil, fmt.Errorf("no SSH authentication configured for %s", d.cfg.Addr())
	}

	return sshConfig, nil
}

// loadPrivateKey reads and parses a private key file.
func loadPrivateKey(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return signer, nil
}
