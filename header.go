package imap

import (
	"bufio"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"regexp"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/emersion/go-message/textproto"
	"golang.org/x/net/html/charset"
)

// MessageHeader is one parsed FETCH record
type MessageHeader struct {
	// ID is the message sequence number
	ID           int
	UID          int
	Size         int
	InternalDate time.Time
	// Date is the raw Date header
	Date string
	// Timestamp is Date parsed, or InternalDate when there is no usable
	// Date header
	Timestamp   time.Time
	Subject     string
	From        string
	To          string
	CC          string
	BCC         string
	ReplyTo     string
	InReplyTo   string
	References  string
	MessageID   string
	Encoding    string
	ContentType string
	Charset     string
	// MDNTo is the Disposition-Notification-To address
	MDNTo    string
	Priority int
	// Flags holds flag names without sigils, uppercased: SEEN, FORWARDED
	Flags  map[string]bool
	ModSeq string

	Envelope      *Token
	BodyStructure *Token
	// Body is the full message or text section, when fetched
	Body string
	// BodyParts maps section specifiers such as "1.2" or "TEXT" to raw data
	BodyParts map[string]string
	// Others holds the remaining header fields by lowercase name
	Others map[string][]string
}

// HasFlag reports whether flag is set. Sigils and case are ignored.
func (h *MessageHeader) HasFlag(flag string) bool {
	return h.Flags[normalizeFlag(flag)]
}

// normalizeFlag turns "\Seen" into "SEEN" and "$Forwarded" into "FORWARDED"
func normalizeFlag(f string) string {
	return strings.ToUpper(strings.TrimLeft(f, `\$`))
}

const internalDateLayout = "_2-Jan-2006 15:04:05 -0700"

// parseDate accepts RFC 5322 dates and IMAP internal dates
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := mail.ParseDate(s); err == nil {
		return t, true
	}
	if t, err := time.Parse(internalDateLayout, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

var foldRE = regexp.MustCompile(`\r?\n[ \t]+`)

// applyHeaderBlock decomposes a block of header fields into h. When the
// block holds no "Name:" fields and exactly one field was requested, the
// whole block is taken as that field's value.
func (h *MessageHeader) applyHeaderBlock(block string, requested []string) {
	unfolded := foldRE.ReplaceAllString(block, " ")
	unfolded = strings.TrimRight(unfolded, "\r\n") + "\r\n\r\n"

	parsed := 0
	hdr, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(unfolded)))
	if err == nil {
		fields := hdr.Fields()
		for fields.Next() {
			h.setField(fields.Key(), fields.Value())
			parsed++
		}
	}
	if parsed == 0 && len(requested) == 1 {
		if v := strings.TrimSpace(block); v != "" {
			h.setField(requested[0], v)
		}
	}
}

func (h *MessageHeader) setField(name, value string) {
	value = strings.TrimSpace(value)
	switch field := strings.ToLower(strings.TrimSpace(name)); field {
	case "date":
		h.Date = value
		if t, ok := parseDate(value); ok {
			h.Timestamp = t
		}
	case "from":
		h.From = value
	case "to":
		h.To = value
	case "cc":
		h.CC = value
	case "bcc":
		h.BCC = value
	case "subject":
		h.Subject = value
	case "reply-to":
		h.ReplyTo = value
	case "in-reply-to":
		h.InReplyTo = value
	case "references":
		h.References = value
	case "message-id":
		h.MessageID = value
	case "content-transfer-encoding":
		h.Encoding = value
	case "content-type":
		h.ContentType = value
		if mt, params, err := mime.ParseMediaType(value); err == nil {
			h.ContentType = mt
			h.Charset = params["charset"]
		} else if i := strings.IndexByte(value, ';'); i >= 0 {
			h.ContentType = strings.TrimSpace(value[:i])
		}
	case "disposition-notification-to", "x-confirm-reading-to":
		h.MDNTo = value
	case "x-priority":
		h.Priority = leadingInt(value)
	default:
		if len(field) < 3 {
			return
		}
		if h.Others == nil {
			h.Others = make(map[string][]string)
		}
		h.Others[field] = append(h.Others[field], value)
	}
}

// charsetReader maps a MIME charset label to a UTF-8 reader
func charsetReader(label string, input io.Reader) (io.Reader, error) {
	label = strings.Replace(strings.ToLower(label), "windows-", "cp", 1)
	enc, _ := charset.Lookup(label)
	if enc == nil {
		return nil, fmt.Errorf("imap: unknown charset %q", label)
	}
	return enc.NewDecoder().Reader(input), nil
}

var wordDecoder = &mime.WordDecoder{CharsetReader: charsetReader}

// DecodeHeader decodes RFC 2047 encoded words. Undecodable input is
// returned unchanged.
func DecodeHeader(s string) string {
	dec, err := wordDecoder.DecodeHeader(s)
	if err != nil {
		return s
	}
	return dec
}

// DecodedSubject returns the subject with encoded words decoded
func (h *MessageHeader) DecodedSubject() string {
	return DecodeHeader(h.Subject)
}

func (h MessageHeader) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "#%d UID %d", h.ID, h.UID)
	if h.Subject != "" {
		fmt.Fprintf(&sb, " %q", h.DecodedSubject())
	}
	if h.From != "" {
		fmt.Fprintf(&sb, " from %s", DecodeHeader(h.From))
	}
	if !h.Timestamp.IsZero() {
		fmt.Fprintf(&sb, " %s", humanize.Time(h.Timestamp))
	}
	if h.Size > 0 {
		fmt.Fprintf(&sb, " (%s)", humanize.Bytes(uint64(h.Size)))
	}
	return sb.String()
}
