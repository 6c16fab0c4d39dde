package imap

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	retry "github.com/StirlingMarketingGroup/go-retry"
	"github.com/rs/xid"
)

// State is the protocol state of a Client
type State int

const (
	StateDisconnected State = iota
	StateGreeted
	StateAuthenticated
	StateSelected
)

func (s State) String() string {
	switch s {
	case StateGreeted:
		return "greeted"
	case StateAuthenticated:
		return "authenticated"
	case StateSelected:
		return "selected"
	}
	return "disconnected"
}

// Client is one IMAP connection. It is strictly half-duplex: each command
// is written only after the previous tagged response was consumed, so a
// Client must not be shared between goroutines. Open one Client per
// concurrent session.
type Client struct {
	cfg     Config
	id      xid.ID
	baseLog Logger

	conn  net.Conn
	r     *bufio.Reader
	state State

	cmdNum   int
	tag      string
	greeting string

	caps        Capabilities
	capsRead    bool
	literalPlus bool
	enabled     map[string]bool

	lastErr    *Error
	lastResult Result

	session     Session
	mailboxOpts map[string][]string
	namespaces  *Namespaces
	delimiter   string
	serverID    map[string]string

	user   string
	secret string
}

var greetingRE = regexp.MustCompile(`(?i)^\* (OK|PREAUTH)\b`)

// New returns an unconnected client for cfg
func New(cfg Config) *Client {
	if cfg.AuthType == "" {
		cfg.AuthType = AuthAuto
	}
	logger := cfg.Logger
	if logger == nil {
		logger = defaultLogger()
	}
	return &Client{
		cfg:         cfg,
		id:          xid.New(),
		baseLog:     logger.WithAttrs("component", "imap/client"),
		mailboxOpts: make(map[string][]string),
		enabled:     make(map[string]bool),
	}
}

// Dial creates a client, connects it and authenticates as user
func Dial(cfg Config, user, secret string) (*Client, error) {
	c := New(cfg)
	if err := c.Connect(user, secret); err != nil {
		return nil, err
	}
	return c, nil
}

// ConnID returns the identifier used to tag this client's log lines
func (c *Client) ConnID() string { return c.id.String() }

// State returns the current protocol state
func (c *Client) State() State { return c.state }

// Connected reports whether the socket is open
func (c *Client) Connected() bool { return c.conn != nil && c.state != StateDisconnected }

// Greeting returns the server greeting text without response codes
func (c *Client) Greeting() string { return c.greeting }

// ServerID returns the server's answer to the ID command sent on connect
func (c *Client) ServerID() map[string]string { return c.serverID }

// Config returns the client's configuration
func (c *Client) Config() Config { return c.cfg }

// dialHost establishes the TCP or TLS connection to the IMAP server
func (c *Client) dialHost() (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.cfg.DialTimeout}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	if !c.cfg.TLS {
		return dialer.Dial("tcp", addr)
	}
	cfg := &tls.Config{ServerName: c.cfg.Host}
	if c.cfg.TLSSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	return tls.DialWithDialer(dialer, "tcp", addr, cfg)
}

// open dials and reads the greeting, retrying both together
func (c *Client) open() error {
	err := retry.Retry(func() error {
		c.debugLog("establishing connection", "host", c.cfg.Host, "port", c.cfg.Port, "tls", c.cfg.TLS)
		conn, err := c.dialHost()
		if err != nil {
			return err
		}
		c.conn = conn
		c.r = bufio.NewReader(conn)
		c.state = StateGreeted
		c.resetConnectionState()

		line, err := c.readLine()
		if err != nil {
			return fmt.Errorf("imap greeting: %w", err)
		}
		line = strings.TrimSpace(line)
		m := greetingRE.FindStringSubmatch(line)
		if m == nil {
			c.closeSocket()
			return fmt.Errorf("imap greeting: unexpected %q", line)
		}
		if strings.EqualFold(m[1], "PREAUTH") {
			c.state = StateAuthenticated
		}
		c.parseCapabilityCode(line)
		c.greeting = greetingText(line)
		return nil
	}, c.cfg.attempts()-1, func(err error) error {
		c.warnLog("failed to connect, retrying shortly", "error", err)
		c.closeSocket()
		return nil
	}, func() error {
		c.debugLog("retrying connection now")
		return nil
	})
	if err != nil {
		c.closeSocket()
		c.errorLog("failed to establish connection", "error", err)
		return c.setError(StatusBad, "connect to "+c.cfg.Host, err)
	}
	return nil
}

// greetingText strips the status word and any response code
func greetingText(line string) string {
	_, text, _ := strings.Cut(line, " ")
	_, text, _ = strings.Cut(text, " ")
	if strings.HasPrefix(text, "[") {
		if end := strings.IndexByte(text, ']'); end >= 0 {
			text = text[end+1:]
		}
	}
	return strings.TrimSpace(text)
}

func (c *Client) resetConnectionState() {
	c.cmdNum = 0
	c.tag = ""
	c.caps = nil
	c.capsRead = false
	c.enabled = make(map[string]bool)
	c.session = Session{}
	c.mailboxOpts = make(map[string][]string)
	c.namespaces = nil
	c.delimiter = ""
	c.literalPlus = c.cfg.LiteralPlus != nil && *c.cfg.LiteralPlus
}

// Connect opens the connection, exchanges ID when configured and
// authenticates with the configured mechanism
func (c *Client) Connect(user, secret string) error {
	if c.Connected() {
		return nil
	}
	c.user, c.secret = user, secret

	if err := c.open(); err != nil {
		return err
	}

	if len(c.cfg.Ident) > 0 && c.Capability("ID") {
		if id, err := c.ID(c.cfg.Ident); err == nil {
			c.serverID = id
		}
	}

	if c.state == StateGreeted {
		if err := c.Authenticate(c.cfg.AuthType, user, secret); err != nil {
			c.errorLog("authentication failed", "error", err)
			c.closeSocket()
			return err
		}
	}

	if c.cfg.ForceCaps {
		c.ClearCapabilities()
	}
	return nil
}

// Clone opens an independent client with the same configuration and
// credentials and re-selects the current mailbox
func (c *Client) Clone() (*Client, error) {
	c2, err := Dial(c.cfg, c.user, c.secret)
	if err != nil {
		return nil, err
	}
	if c.state == StateSelected {
		if c.session.ReadWrite {
			err = c2.Select(c.session.Mailbox, nil)
		} else {
			err = c2.Examine(c.session.Mailbox)
		}
		if err != nil {
			_ = c2.Close()
			return nil, fmt.Errorf("imap clone: %w", err)
		}
	}
	return c2, nil
}

// closeSocket drops the connection without talking to the server
func (c *Client) closeSocket() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = nil
	c.r = nil
	c.state = StateDisconnected
}

// Close logs out and closes the connection. Calling it again is a no-op.
func (c *Client) Close() error {
	if !c.Connected() {
		c.closeSocket()
		return nil
	}
	c.debugLog("closing connection")
	_, _ = c.Execute("LOGOUT", nil, ExecNoResponse)
	c.closeSocket()
	return nil
}
