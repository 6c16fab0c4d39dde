package imap

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Status classifies the outcome of a command
type Status int

const (
	// StatusOK means the server completed the command
	StatusOK Status = iota
	// StatusNo means the server rejected the operation
	StatusNo
	// StatusBad means the server could not parse the command
	StatusBad
	// StatusBye means the server is closing the session
	StatusBye
	// StatusCommand means the command could not be written to the server
	StatusCommand
	// StatusReadOnly means a mutation was attempted on a read-only mailbox
	StatusReadOnly
	// StatusUnknown means the response did not follow the status-line grammar
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNo:
		return "NO"
	case StatusBad:
		return "BAD"
	case StatusBye:
		return "BYE"
	case StatusCommand:
		return "COMMAND"
	case StatusReadOnly:
		return "READONLY"
	}
	return "UNKNOWN"
}

var (
	// ErrNotConnected is returned for operations on a channel that was never
	// connected or has been closed
	ErrNotConnected = errors.New("imap: not connected")
	// ErrConnectionLost is returned when a read hits end of stream or times out
	ErrConnectionLost = errors.New("imap: connection lost")
	// ErrProtocol is returned when the server breaks the response grammar;
	// the connection is closed
	ErrProtocol = errors.New("imap: protocol violation")
)

// Error is a command outcome other than OK
type Error struct {
	Status   Status
	Code     string
	CodeArgs []string
	Message  string
	Err      error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString("imap ")
	sb.WriteString(e.Status.String())
	if e.Code != "" {
		sb.WriteString(" [")
		sb.WriteString(e.Code)
		sb.WriteByte(']')
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// StatusOf returns the Status carried by err, StatusOK for nil and
// StatusUnknown for errors that are not an *Error
func StatusOf(err error) Status {
	if err == nil {
		return StatusOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return StatusUnknown
}

// AppendUID is the payload of an APPENDUID response code
type AppendUID struct {
	UIDValidity int
	UIDs        []int
}

// CopyUID is the payload of a COPYUID response code
type CopyUID struct {
	UIDValidity int
	Source      []int
	Dest        []int
}

// Result is a classified status line
type Result struct {
	Status    Status
	Code      string
	CodeArgs  []string
	Text      string
	AppendUID *AppendUID
	CopyUID   *CopyUID
}

var resultRE = regexp.MustCompile(`(?i)^[a-z0-9*+]+ (OK|NO|BAD|BYE|PREAUTH)(?: (.*))?$`)

// ParseResult classifies a final response line such as
// "A0001 NO [CANNOT] Mailbox exists"
func ParseResult(line string) Result {
	m := resultRE.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return Result{Status: StatusUnknown, Text: strings.TrimSpace(line)}
	}

	var r Result
	switch strings.ToUpper(m[1]) {
	case "OK", "PREAUTH":
		r.Status = StatusOK
	case "NO":
		r.Status = StatusNo
	case "BAD":
		r.Status = StatusBad
	case "BYE":
		r.Status = StatusBye
	}

	text := strings.TrimSpace(m[2])
	if strings.HasPrefix(text, "[") {
		if end := strings.IndexByte(text, ']'); end > 0 {
			fields := strings.Fields(text[1:end])
			if len(fields) > 0 {
				r.Code = strings.ToUpper(fields[0])
				r.CodeArgs = fields[1:]
			}
			text = strings.TrimSpace(text[end+1:])
		}
	}
	r.Text = text

	switch r.Code {
	case "APPENDUID":
		if len(r.CodeArgs) >= 2 {
			v, _ := strconv.Atoi(r.CodeArgs[0])
			r.AppendUID = &AppendUID{UIDValidity: v, UIDs: UncompressMessageSet(r.CodeArgs[1])}
		}
	case "COPYUID":
		if len(r.CodeArgs) >= 3 {
			v, _ := strconv.Atoi(r.CodeArgs[0])
			r.CopyUID = &CopyUID{
				UIDValidity: v,
				Source:      UncompressMessageSet(r.CodeArgs[1]),
				Dest:        UncompressMessageSet(r.CodeArgs[2]),
			}
		}
	}
	return r
}

// responseCode returns the bracketed response code of an untagged
// "* OK [CODE args]" line, if any
func responseCode(line string) (code string, args string, ok bool) {
	if len(line) < 6 || !strings.EqualFold(line[:6], "* OK [") {
		return "", "", false
	}
	rest := line[6:]
	end := strings.LastIndexByte(rest, ']')
	if end < 0 {
		return "", "", false
	}
	inner := rest[:end]
	code, args, _ = strings.Cut(inner, " ")
	return strings.ToUpper(code), args, true
}

// parseResult classifies line, records the last error and closes the
// connection on BYE
func (c *Client) parseResult(line, prefix string) Result {
	r := ParseResult(line)
	c.lastResult = r
	if r.Status == StatusOK {
		c.lastErr = nil
	} else {
		c.lastErr = &Error{Status: r.Status, Code: r.Code, CodeArgs: r.CodeArgs, Message: prefix + r.Text}
	}
	if r.Status == StatusBye {
		c.closeSocket()
	}
	return r
}

// setError records a client side failure as the last error and returns it
func (c *Client) setError(status Status, message string, cause error) *Error {
	e := &Error{Status: status, Message: message, Err: cause}
	c.lastErr = e
	return e
}

// LastError returns the error recorded by the most recent command, or nil
// when it completed with OK
func (c *Client) LastError() *Error {
	return c.lastErr
}

// LastResult returns the classified final line of the most recent command
func (c *Client) LastResult() Result {
	return c.lastResult
}

func (r Result) String() string {
	if r.Code != "" {
		return fmt.Sprintf("%s [%s] %s", r.Status, r.Code, r.Text)
	}
	return fmt.Sprintf("%s %s", r.Status, r.Text)
}
