package imap

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
)

// AuthMechanism names an authentication method
type AuthMechanism string

const (
	// AuthAuto picks the strongest mechanism the server offers, preferring
	// DIGEST-MD5, CRAM-MD5, PLAIN and LOGIN in that order
	AuthAuto AuthMechanism = "AUTO"
	// AuthLogin uses the LOGIN command
	AuthLogin AuthMechanism = "LOGIN"
	// AuthPlain uses SASL PLAIN (RFC 4616)
	AuthPlain AuthMechanism = "PLAIN"
	// AuthCramMD5 uses SASL CRAM-MD5 (RFC 2195)
	AuthCramMD5 AuthMechanism = "CRAM-MD5"
	// AuthDigestMD5 uses SASL DIGEST-MD5 (RFC 2831)
	AuthDigestMD5 AuthMechanism = "DIGEST-MD5"
	// AuthGSSAPI uses SASL GSSAPI with Config.GSSAPI
	AuthGSSAPI AuthMechanism = "GSSAPI"
	// AuthXOAuth2 uses XOAUTH2 with an OAuth 2.0 access token as the secret
	AuthXOAuth2 AuthMechanism = "XOAUTH2"
)

// ParseAuthMechanism maps a configuration value to a mechanism. "CHECK"
// and "" mean AuthAuto.
func ParseAuthMechanism(s string) (AuthMechanism, error) {
	m := AuthMechanism(strings.ToUpper(strings.TrimSpace(s)))
	switch m {
	case "", "CHECK":
		return AuthAuto, nil
	}
	if !m.valid() {
		return "", fmt.Errorf("imap: unknown auth mechanism %q", s)
	}
	return m, nil
}

func (m AuthMechanism) valid() bool {
	switch m {
	case "", AuthAuto, AuthLogin, AuthPlain, AuthCramMD5, AuthDigestMD5, AuthGSSAPI, AuthXOAuth2:
		return true
	}
	return false
}

var autoPreference = []AuthMechanism{AuthDigestMD5, AuthCramMD5, AuthPlain, AuthLogin}

// selectAuthMechanism picks the preferred mechanism out of the advertised
// AUTH= values. LOGIN counts as available unless LOGINDISABLED is set.
func selectAuthMechanism(caps Capabilities) (AuthMechanism, bool) {
	offered := make(map[AuthMechanism]bool)
	for _, v := range caps.Values("AUTH") {
		offered[AuthMechanism(strings.ToUpper(v))] = true
	}
	if caps.Has("LOGINDISABLED") {
		delete(offered, AuthLogin)
	} else {
		offered[AuthLogin] = true
	}
	for _, m := range autoPreference {
		if offered[m] {
			return m, true
		}
	}
	return "", false
}

// identities returns the authorization identity, authentication identity
// and secret, honoring the configured proxy identity
func (c *Client) identities(user, secret string) (authz, authc, pass string) {
	if c.cfg.AuthCID != "" {
		return user, c.cfg.AuthCID, c.cfg.AuthPassword
	}
	return "", user, secret
}

// Authenticate logs in as user with mech. AuthAuto selects the mechanism
// from the server's capabilities.
func (c *Client) Authenticate(mech AuthMechanism, user, secret string) error {
	if mech == "" || mech == AuthAuto {
		c.ensureCapabilities()
		m, ok := selectAuthMechanism(c.caps)
		if !ok {
			return c.setError(StatusBad, "no supported authentication mechanism", nil)
		}
		mech = m
		c.debugLog("selected authentication mechanism", "mechanism", mech)
	}

	authz, authc, pass := c.identities(user, secret)
	var err error
	switch mech {
	case AuthLogin:
		err = c.Login(user, secret)
	case AuthPlain:
		err = c.authenticateSASL(sasl.NewPlainClient(authz, authc, pass), c.Capability("SASL-IR"))
	case AuthCramMD5:
		err = c.authenticateSASL(newCramMD5Client(authc, pass), false)
	case AuthDigestMD5:
		err = c.authenticateSASL(newDigestMD5Client(authc, pass, authz, c.cfg.Host), false)
	case AuthGSSAPI:
		if c.cfg.GSSAPI == nil {
			return c.setError(StatusBad, "GSSAPI authentication requires a security context", nil)
		}
		err = c.authenticateSASL(&gssapiClient{ctx: c.cfg.GSSAPI, target: c.cfg.gssapiTarget()}, true)
	case AuthXOAuth2:
		err = c.authenticateSASL(&xoauth2Client{username: user, token: secret}, true)
	default:
		return c.setError(StatusBad, fmt.Sprintf("unknown authentication mechanism %q", mech), nil)
	}
	if err != nil {
		return err
	}
	c.user, c.secret = user, secret
	return nil
}

// AuthenticateWith runs a caller supplied SASL mechanism. The server must
// advertise AUTH=<mech>.
func (c *Client) AuthenticateWith(mech string, client sasl.Client) error {
	advertised := false
	for _, v := range c.CapabilityValues("AUTH") {
		if strings.EqualFold(v, mech) {
			advertised = true
			break
		}
	}
	if !advertised {
		return c.setError(StatusNo, fmt.Sprintf("server does not offer AUTH=%s", mech), nil)
	}
	return c.authenticateSASL(client, c.Capability("SASL-IR"))
}

// Login authenticates with the LOGIN command
func (c *Client) Login(user, secret string) error {
	if c.Capability("LOGINDISABLED") {
		return c.setError(StatusBad, "login disabled by IMAP server", nil)
	}
	resp, err := c.Execute("LOGIN", []any{Escape(user), Escape(secret)}, ExecCapability|ExecAnonymized)
	if err != nil {
		return err
	}
	c.scanCapabilities(resp.Lines)
	c.state = StateAuthenticated
	return nil
}

// scanCapabilities picks up untagged CAPABILITY responses
func (c *Client) scanCapabilities(lines []string) {
	for _, l := range lines {
		if len(l) > 13 && strings.EqualFold(l[:13], "* CAPABILITY ") {
			c.setCapabilities(l[13:])
		}
	}
}

func encodeSASL(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// authenticateSASL drives an AUTHENTICATE exchange. With inline set the
// initial response travels on the command line (SASL-IR), encoded as "="
// when empty. A mechanism error cancels the exchange with "*".
func (c *Client) authenticateSASL(client sasl.Client, inline bool) error {
	if !c.Connected() {
		return c.setError(StatusCommand, "AUTHENTICATE", ErrNotConnected)
	}
	name, ir, err := client.Start()
	op := "AUTHENTICATE " + name
	if err != nil {
		return c.setError(StatusBad, op, err)
	}

	tag := c.NextTag()
	line := tag + " " + op
	if inline && ir != nil {
		if len(ir) == 0 {
			line += " ="
		} else {
			line += " " + encodeSASL(ir)
		}
		ir = nil
	}
	c.debugLog("sending command", "command", tag+" "+op)
	if err := c.write(line + "\r\n"); err != nil {
		return c.setError(StatusCommand, "unable to send command "+op, err)
	}

	var final string
	for final == "" {
		l, err := c.readResponse()
		if err != nil {
			return c.asError(op, err)
		}
		switch {
		case strings.HasPrefix(l, tag+" "), isBye(l):
			final = l
		case strings.HasPrefix(l, "+"):
			var out []byte
			if ir != nil {
				out, ir = ir, nil
			} else {
				challenge, derr := base64.StdEncoding.DecodeString(strings.TrimSpace(l[1:]))
				if derr != nil {
					return c.cancelSASL(tag, op, fmt.Errorf("invalid challenge: %w", derr))
				}
				if out, err = client.Next(challenge); err != nil {
					return c.cancelSASL(tag, op, err)
				}
			}
			if err := c.write(encodeSASL(out) + "\r\n"); err != nil {
				return c.setError(StatusCommand, "unable to send response for "+op, err)
			}
		case !isUntagged(l):
			return c.violation(fmt.Sprintf("%s: response for foreign tag: %q", op, l))
		default:
			c.scanCapabilities([]string{l})
		}
	}

	r := c.parseResult(final, op+": ")
	if r.Status != StatusOK {
		return c.lastErr
	}
	c.parseCapabilityCode(final)
	c.state = StateAuthenticated
	return nil
}

// cancelSASL aborts an exchange and consumes the server's tagged reply
func (c *Client) cancelSASL(tag, op string, cause error) error {
	if err := c.write("*\r\n"); err == nil {
		for {
			l, err := c.readResponse()
			if err != nil || strings.HasPrefix(l, tag+" ") {
				break
			}
			if isBye(l) {
				c.closeSocket()
				break
			}
		}
	}
	c.warnLog("authentication aborted", "mechanism", op, "error", cause)
	return c.setError(StatusBad, op, cause)
}

