package imap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	humanize "github.com/dustin/go-humanize"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/jhillyerd/enmime/v2"
)

// EmailAddresses represents a map of email addresses to display names
type EmailAddresses map[string]string

// Message is a fully fetched and MIME parsed message
type Message struct {
	Header      *MessageHeader
	UID         int
	Flags       []string
	Received    time.Time
	Sent        time.Time
	Size        uint64
	Subject     string
	MessageID   string
	From        EmailAddresses
	To          EmailAddresses
	ReplyTo     EmailAddresses
	CC          EmailAddresses
	BCC         EmailAddresses
	Text        string
	HTML        string
	Attachments []Attachment
}

// Attachment represents an email attachment
type Attachment struct {
	Name     string
	MimeType string
	Content  []byte
}

// String returns a formatted string representation of EmailAddresses
func (e EmailAddresses) String() string {
	emails := strings.Builder{}
	i := 0
	for e, n := range e {
		if i != 0 {
			emails.WriteString(", ")
		}
		switch {
		case n == "":
			emails.WriteString(e)
		case strings.ContainsRune(n, ','):
			fmt.Fprintf(&emails, `"%s" <%s>`, quoteReplacer.Replace(n), e)
		default:
			fmt.Fprintf(&emails, `%s <%s>`, n, e)
		}
		i++
	}
	return emails.String()
}

func excerpt(label, s string) string {
	if len(s) > 20 {
		return fmt.Sprintf("%s: %s... (%s)\n", label, s[:20], humanize.Bytes(uint64(len(s))))
	}
	return fmt.Sprintf("%s: %s (%s)\n", label, s, humanize.Bytes(uint64(len(s))))
}

// String returns a formatted string representation of a Message
func (m Message) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Subject: %s\n", m.Subject)
	for _, a := range []struct {
		label string
		addrs EmailAddresses
	}{
		{"To", m.To}, {"From", m.From}, {"CC", m.CC}, {"BCC", m.BCC}, {"ReplyTo", m.ReplyTo},
	} {
		if len(a.addrs) != 0 {
			fmt.Fprintf(&sb, "%s: %s\n", a.label, a.addrs)
		}
	}
	if m.Text != "" {
		sb.WriteString(excerpt("Text", m.Text))
	}
	if m.HTML != "" {
		sb.WriteString(excerpt("HTML", m.HTML))
	}
	if len(m.Attachments) != 0 {
		fmt.Fprintf(&sb, "%d Attachment(s): %s\n", len(m.Attachments), m.Attachments)
	}
	return sb.String()
}

// String returns a formatted string representation of an Attachment
func (a Attachment) String() string {
	return fmt.Sprintf("%s (%s %s)", a.Name, a.MimeType, humanize.Bytes(uint64(len(a.Content))))
}

// parseAddresses maps each address of a header value to its display name
func parseAddresses(value string) EmailAddresses {
	out := make(EmailAddresses)
	if strings.TrimSpace(value) == "" {
		return out
	}
	list, err := mail.ParseAddressList(value)
	if err != nil {
		return out
	}
	for _, a := range list {
		out[strings.ToLower(a.Address)] = a.Name
	}
	return out
}

// FetchMessage fetches the complete message uid from mailbox and parses
// its MIME structure
func (c *Client) FetchMessage(mailbox string, uid int) (*Message, error) {
	hs, err := c.Fetch(mailbox, strconv.Itoa(uid), true,
		[]string{"UID", "FLAGS", "INTERNALDATE", "RFC822.SIZE", "BODY.PEEK[]"}, nil)
	if err != nil {
		return nil, err
	}
	var h *MessageHeader
	for _, x := range hs {
		if x.UID == uid {
			h = x
			break
		}
	}
	if h == nil {
		return nil, c.setError(StatusNo, "FETCH: message "+strconv.Itoa(uid)+" not found", nil)
	}

	env, err := enmime.ReadEnvelope(strings.NewReader(h.Body))
	if err != nil {
		c.warnLog("email body could not be parsed", "uid", uid, "error", err)
		return nil, fmt.Errorf("imap fetch message %d: %w", uid, err)
	}
	for _, hdr := range []string{"Date", "Subject", "From", "To", "Cc", "Bcc", "Reply-To", "Message-Id", "In-Reply-To", "References", "Content-Type"} {
		if v := env.GetHeader(hdr); v != "" {
			h.setField(hdr, v)
		}
	}

	m := &Message{
		Header:    h,
		UID:       h.UID,
		Received:  h.InternalDate,
		Sent:      h.Timestamp,
		Size:      uint64(h.Size),
		Subject:   h.Subject,
		MessageID: h.MessageID,
		From:      parseAddresses(env.GetHeader("From")),
		To:        parseAddresses(env.GetHeader("To")),
		ReplyTo:   parseAddresses(env.GetHeader("Reply-To")),
		CC:        parseAddresses(env.GetHeader("Cc")),
		BCC:       parseAddresses(env.GetHeader("Bcc")),
		Text:      env.Text,
		HTML:      env.HTML,
	}
	for f := range h.Flags {
		m.Flags = append(m.Flags, f)
	}
	for _, parts := range [][]*enmime.Part{env.Attachments, env.Inlines} {
		for _, a := range parts {
			m.Attachments = append(m.Attachments, Attachment{
				Name:     a.FileName,
				MimeType: a.ContentType,
				Content:  a.Content,
			})
		}
	}
	return m, nil
}

// SetFlags changes the flags of the messages in set. Additions and
// removals are sent as separate silent STOREs.
func (c *Client) SetFlags(mailbox, set string, isUID bool, flags Flags) error {
	if err := c.ensureSelected(mailbox); err != nil {
		return err
	}
	if err := c.requireWritable("STORE"); err != nil {
		return err
	}
	command := "STORE"
	if isUID {
		command = "UID STORE"
	}
	add, remove := flags.changes()
	set = CompressMessageSetString(set, false)
	for _, op := range []struct {
		item  string
		flags []string
	}{{"+FLAGS.SILENT", add}, {"-FLAGS.SILENT", remove}} {
		if len(op.flags) == 0 {
			continue
		}
		if _, err := c.Execute(command, []any{set, op.item, op.flags}, ExecNoResponse); err != nil {
			return err
		}
	}
	return nil
}

// Copy copies the messages with UIDs in set from one mailbox to another.
// The COPYUID data is returned when the server sends it.
func (c *Client) Copy(set, from, to string) (*CopyUID, error) {
	if err := c.ensureSelected(from); err != nil {
		return nil, err
	}
	resp, err := c.Execute("UID COPY", []any{CompressMessageSetString(set, false), Escape(to)}, ExecNoResponse)
	if err != nil {
		return nil, err
	}
	return resp.Result.CopyUID, nil
}

// Move moves the messages with UIDs in set. Without the MOVE extension it
// copies, flags the originals \Deleted and expunges them.
func (c *Client) Move(set, from, to string) (*CopyUID, error) {
	if from == to {
		return nil, c.setError(StatusBad, "MOVE: source and target mailbox are the same", nil)
	}
	if err := c.ensureSelected(from); err != nil {
		return nil, err
	}
	if err := c.requireWritable("MOVE"); err != nil {
		return nil, err
	}
	set = CompressMessageSetString(set, false)

	if c.Capability("MOVE") {
		resp, err := c.Execute("UID MOVE", []any{set, Escape(to)}, ExecNoResponse)
		if err != nil {
			return nil, err
		}
		return resp.Result.CopyUID, nil
	}

	cp, err := c.Copy(set, from, to)
	if err != nil {
		return nil, err
	}
	if err := c.SetFlags(from, set, true, Flags{Deleted: FlagAdd}); err != nil {
		return cp, err
	}
	return cp, c.Expunge(from, set)
}

// Expunge removes \Deleted messages. With UIDPLUS and a non-empty set only
// those UIDs are expunged.
func (c *Client) Expunge(mailbox, set string) error {
	if err := c.ensureSelected(mailbox); err != nil {
		return err
	}
	if err := c.requireWritable("EXPUNGE"); err != nil {
		return err
	}
	var err error
	if set != "" && c.Capability("UIDPLUS") {
		_, err = c.Execute("UID EXPUNGE", []any{CompressMessageSetString(set, false)}, ExecNoResponse)
	} else {
		_, err = c.Execute("EXPUNGE", nil, ExecNoResponse)
	}
	return err
}

var bareLF = regexp.MustCompile(`\r?\n`)

// Append stores message in mailbox with optional flags and internal date.
// It returns the new UID when the server reports APPENDUID, 0 otherwise.
func (c *Client) Append(mailbox, message string, flags []string, date time.Time) (int, error) {
	if mailbox == "" {
		return 0, c.setError(StatusBad, "APPEND: empty mailbox name", nil)
	}
	args := []any{Escape(mailbox)}
	if len(flags) > 0 {
		args = append(args, flags)
	}
	if !date.IsZero() {
		args = append(args, quote(date.Format(internalDateLayout)))
	}
	args = append(args, MakeIMAPLiteral(bareLF.ReplaceAllString(message, "\r\n")))

	resp, err := c.Execute("APPEND", args, ExecNoResponse)
	if err != nil {
		return 0, err
	}
	if au := resp.Result.AppendUID; au != nil && len(au.UIDs) > 0 {
		return au.UIDs[0], nil
	}
	return 0, nil
}
