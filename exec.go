package imap

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ExecOption modifies how Execute treats a response
type ExecOption uint8

const (
	// ExecNoResponse drops the untagged response body
	ExecNoResponse ExecOption = 1 << iota
	// ExecLastLine returns only the final line's text with the tag,
	// status word and response code removed
	ExecLastLine
	// ExecCapability refreshes capabilities from an inline CAPABILITY code
	ExecCapability
	// ExecAnonymized keeps the command arguments out of the logs
	ExecAnonymized
)

// Response is the outcome of one command
type Response struct {
	Tag    string
	Status Status
	Result Result
	// Lines holds each untagged response with its literals inlined and the
	// trailing CRLF removed
	Lines []string
	// Body is the untagged responses joined with CRLF, or the final line's
	// text under ExecLastLine
	Body string
	// Line is the raw terminating line
	Line string
}

var (
	// trailing {n} of a response line announcing a literal
	literalRE = regexp.MustCompile(`\{(\d+)\}$`)
	// literal announcement inside an outgoing command
	literalMarkRE = regexp.MustCompile(`\{(\d+)\}\r\n`)
	untaggedNumRE = regexp.MustCompile(`(?i)^\* (\d+) (EXISTS|RECENT|EXPUNGE)\b`)
)

// NextTag advances the command counter and returns the new tag
func (c *Client) NextTag() string {
	c.cmdNum++
	c.tag = fmt.Sprintf("A%04d", c.cmdNum)
	return c.tag
}

// Tag returns the most recently issued tag
func (c *Client) Tag() string { return c.tag }

func (c *Client) deadline() {
	if c.cfg.Timeout > 0 && c.conn != nil {
		_ = c.conn.SetDeadline(time.Now().Add(c.cfg.Timeout))
	}
}

// lost closes the socket after a failed read and builds the error for it
func (c *Client) lost(err error) *Error {
	c.warnLog("connection lost", "error", err)
	c.closeSocket()
	return c.setError(StatusUnknown, "", fmt.Errorf("%w: %v", ErrConnectionLost, err))
}

// violation closes the socket after the server broke the protocol
func (c *Client) violation(msg string) *Error {
	c.warnLog("protocol violation", "error", msg)
	c.closeSocket()
	return c.setError(StatusUnknown, msg, ErrProtocol)
}

// readLine reads up to and including the next LF
func (c *Client) readLine() (string, error) {
	if c.r == nil {
		return "", ErrNotConnected
	}
	c.deadline()
	line, err := c.r.ReadString('\n')
	if err != nil {
		if err == io.EOF && line != "" {
			return line, nil
		}
		return "", c.lost(err)
	}
	return line, nil
}

// readBytes reads exactly n bytes of literal payload
func (c *Client) readBytes(n int) (string, error) {
	if c.r == nil {
		return "", ErrNotConnected
	}
	buf := make([]byte, n)
	c.deadline()
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return "", c.lost(err)
	}
	return string(buf), nil
}

// readResponse reads one logical response: a line plus every literal it
// announces, returned without the final CRLF
func (c *Client) readResponse() (string, error) {
	line, err := c.readLine()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		trimmed := dropNl(line)
		m := literalRE.FindStringSubmatch(trimmed)
		if m == nil {
			sb.WriteString(trimmed)
			break
		}
		n, err := strconv.Atoi(m[1])
		if err != nil || n > c.cfg.maxLiteral() {
			return "", c.violation(fmt.Sprintf("literal of %s bytes exceeds the %d byte limit", m[1], c.cfg.maxLiteral()))
		}
		sb.WriteString(line)
		data, err := c.readBytes(n)
		if err != nil {
			return "", err
		}
		sb.WriteString(data)
		if line, err = c.readLine(); err != nil {
			return "", err
		}
	}
	resp := sb.String()
	if c.cfg.Verbose && !c.cfg.SkipResponses {
		c.debugLog("server response", "response", resp)
	}
	return resp, nil
}

// write sends s as is
func (c *Client) write(s string) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.deadline()
	if _, err := io.WriteString(c.conn, s); err != nil {
		c.closeSocket()
		return err
	}
	return nil
}

// readContinuation waits for a "+" prompt, skipping untagged data.
// Anything else is returned as the rejecting line.
func (c *Client) readContinuation() (ok bool, line string, err error) {
	for {
		line, err = c.readResponse()
		if err != nil {
			return false, "", err
		}
		if strings.HasPrefix(line, "+") {
			return true, line, nil
		}
		if strings.HasPrefix(line, "* ") && !isBye(line) {
			c.trackUntagged(line)
			continue
		}
		return false, line, nil
	}
}

// putLine writes one command line. Every {n}\r\n literal announcement in
// s is written on its own, followed by a wait for the server's "+" prompt
// (skipped with LITERAL+, which rewrites the marker to {n+}), and then the
// n payload bytes. A non-empty rejected line means the server answered
// instead of prompting.
func (c *Client) putLine(s string) (rejected string, err error) {
	pos := 0
	for pos < len(s) {
		loc := literalMarkRE.FindStringSubmatchIndex(s[pos:])
		if loc == nil {
			break
		}
		n, _ := strconv.Atoi(s[pos+loc[2] : pos+loc[3]])
		head := s[pos : pos+loc[2]-1]
		if c.literalPlus {
			err = c.write(head + "{" + strconv.Itoa(n) + "+}\r\n")
		} else {
			err = c.write(head + "{" + strconv.Itoa(n) + "}\r\n")
		}
		if err != nil {
			return "", err
		}
		if !c.literalPlus {
			ok, line, err := c.readContinuation()
			if err != nil {
				return "", err
			}
			if !ok {
				return line, nil
			}
		}
		start := pos + loc[1]
		end := min(start+n, len(s))
		if err = c.write(s[start:end]); err != nil {
			return "", err
		}
		pos = end
	}
	return "", c.write(s[pos:] + "\r\n")
}

// isUntagged reports whether line is untagged data or a continuation
// rather than a tagged status line
func isUntagged(line string) bool {
	return strings.HasPrefix(line, "*") || strings.HasPrefix(line, "+")
}

func isBye(line string) bool {
	return len(line) >= 5 && strings.EqualFold(line[:5], "* BYE")
}

// trackUntagged keeps the selected mailbox counters current
func (c *Client) trackUntagged(line string) {
	if c.state != StateSelected {
		return
	}
	m := untaggedNumRE.FindStringSubmatch(line)
	if m == nil {
		return
	}
	n, _ := strconv.Atoi(m[1])
	switch strings.ToUpper(m[2]) {
	case "EXISTS":
		c.session.Exists = n
	case "RECENT":
		c.session.Recent = n
	case "EXPUNGE":
		if c.session.Exists > 0 {
			c.session.Exists--
		}
	}
}

// Execute sends command with args and reads until its tagged response.
// Arguments are serialized with formatArg; strings are sent verbatim so
// mailbox names and other user data must go through Escape first.
// The returned error is an *Error for every status other than OK, and the
// Response is non-nil whenever the command reached the server.
func (c *Client) Execute(command string, args []any, opts ExecOption) (*Response, error) {
	if !c.Connected() {
		return nil, c.setError(StatusCommand, command, ErrNotConnected)
	}

	tag := c.NextTag()
	var sb strings.Builder
	sb.WriteString(tag)
	sb.WriteByte(' ')
	sb.WriteString(command)
	for _, a := range args {
		sb.WriteByte(' ')
		sb.WriteString(formatArg(a))
	}
	query := sb.String()

	if c.cfg.Verbose {
		logged := query
		if opts&ExecAnonymized != 0 {
			logged = tag + " " + command + " ****"
		}
		c.debugLog("sending command", "command", logged)
	}

	resp := &Response{Tag: tag}
	rejected, err := c.putLine(query)
	if err != nil {
		c.errorLog("failed to send command", "command", command, "error", err)
		c.closeSocket()
		return nil, c.setError(StatusCommand, "unable to send command "+command, err)
	}

	line := rejected
	for line == "" {
		l, err := c.readResponse()
		if err != nil {
			return nil, c.asError(command, err)
		}
		switch {
		case strings.HasPrefix(l, tag+" "):
			line = l
		case isBye(l):
			line = l
		case !isUntagged(l):
			return nil, c.violation(fmt.Sprintf("%s: response for foreign tag: %q", command, l))
		default:
			c.trackUntagged(l)
			if opts&ExecNoResponse == 0 {
				resp.Lines = append(resp.Lines, l)
			}
		}
	}

	resp.Line = line
	resp.Result = c.parseResult(line, command+": ")
	resp.Status = resp.Result.Status

	if resp.Status == StatusOK && opts&ExecCapability != 0 {
		c.parseCapabilityCode(line)
	}
	switch {
	case opts&ExecNoResponse != 0:
		resp.Body = ""
	case opts&ExecLastLine != 0:
		resp.Body = resp.Result.Text
	default:
		resp.Body = strings.Join(resp.Lines, "\r\n")
	}

	if resp.Status != StatusOK {
		return resp, c.lastErr
	}
	return resp, nil
}

// asError returns err as an *Error, recording it when the failure did not
// come from a read that already did
func (c *Client) asError(command string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return c.setError(StatusUnknown, command, err)
}
