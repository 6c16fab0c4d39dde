package imap

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
)

// FetchOptions are the CONDSTORE/QRESYNC modifiers of FETCH
type FetchOptions struct {
	// ChangedSince limits the result to messages whose mod-sequence is
	// higher than this value
	ChangedSince string
	// Vanished reports UIDs expunged since ChangedSince. It needs UID
	// FETCH and an enabled QRESYNC.
	Vanished bool
}

// DefaultHeaderFields are fetched by FetchHeaders in addition to the
// caller's fields
var DefaultHeaderFields = []string{
	"DATE", "FROM", "TO", "SUBJECT", "CONTENT-TYPE", "CC", "REPLY-TO",
	"LIST-POST", "DISPOSITION-NOTIFICATION-TO", "X-PRIORITY",
}

var fetchLineRE = regexp.MustCompile(`(?i)^\* (\d+) FETCH\b`)

// Fetch runs FETCH (or UID FETCH) for items over set in mailbox and parses
// every FETCH record. VANISHED responses go to the session instead.
func (c *Client) Fetch(mailbox, set string, isUID bool, items []string, opts *FetchOptions) ([]*MessageHeader, error) {
	if err := c.ensureSelected(mailbox); err != nil {
		return nil, err
	}
	if set == "" {
		return nil, c.setError(StatusBad, "FETCH: empty message set", nil)
	}
	command := "FETCH"
	if isUID {
		command = "UID FETCH"
	}
	args := []any{CompressMessageSetString(set, false), items}
	if opts != nil && opts.ChangedSince != "" {
		mod := []any{"CHANGEDSINCE", opts.ChangedSince}
		if opts.Vanished && isUID && c.enabled["QRESYNC"] {
			mod = append(mod, "VANISHED")
		}
		args = append(args, mod)
	}

	resp, err := c.Execute(command, args, 0)
	if err != nil {
		return nil, err
	}

	var out []*MessageHeader
	for _, l := range resp.Lines {
		if m := vanishedRE.FindString(l); m != "" {
			c.session.Vanished = c.appendVanished(c.session.Vanished, strings.TrimSpace(l[len(m):]))
			continue
		}
		m := fetchLineRE.FindStringSubmatch(l)
		if m == nil {
			continue
		}
		id, _ := strconv.Atoi(m[1])
		h := parseFetchLine(id, l[len(m[0]):])
		if h == nil {
			if c.cfg.Verbose {
				rest := l[len(m[0]):]
				c.debugLog("unparsable FETCH response", "dump", spew.Sdump(Tokenize(&rest, 0)))
			}
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// FetchHeaders fetches the overview of the messages in set: UID, size,
// flags, internal date and the DefaultHeaderFields plus addHeaders
func (c *Client) FetchHeaders(mailbox, set string, isUID, bodyStructure bool, addHeaders ...string) ([]*MessageHeader, error) {
	fields := append([]string{}, DefaultHeaderFields...)
	for _, h := range addHeaders {
		h = strings.ToUpper(strings.TrimSpace(h))
		if h != "" && !containsFold(fields, h) {
			fields = append(fields, h)
		}
	}
	items := []string{"UID", "RFC822.SIZE", "FLAGS", "INTERNALDATE"}
	if c.Capability("CONDSTORE") || c.Capability("QRESYNC") {
		items = append(items, "MODSEQ")
	}
	if bodyStructure {
		items = append(items, "BODYSTRUCTURE")
	}
	items = append(items, "BODY.PEEK[HEADER.FIELDS ("+strings.Join(fields, " ")+")]")
	return c.Fetch(mailbox, set, isUID, items, nil)
}

// FetchHeader fetches the overview of a single message
func (c *Client) FetchHeader(mailbox string, id int, isUID bool) (*MessageHeader, error) {
	hs, err := c.FetchHeaders(mailbox, strconv.Itoa(id), isUID, false)
	if err != nil {
		return nil, err
	}
	for _, h := range hs {
		if (isUID && h.UID == id) || (!isUID && h.ID == id) {
			return h, nil
		}
	}
	return nil, c.setError(StatusNo, "FETCH: message "+strconv.Itoa(id)+" not found", nil)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// appendVanished adds the UIDs of a VANISHED set to dst, keeping the
// total within MaxMessageSetExpansion
func (c *Client) appendVanished(dst []int, set string) []int {
	ids, complete := UncompressMessageSetLimit(set, MaxMessageSetExpansion-len(dst))
	if !complete {
		c.warnLog("VANISHED set truncated", "set", set, "limit", MaxMessageSetExpansion)
	}
	return append(dst, ids...)
}

// parseFetchLine parses the "(name value ...)" part of a FETCH response for
// message id. It returns nil when rest holds no list.
func parseFetchLine(id int, rest string) *MessageHeader {
	list := TokenizeOne(&rest)
	if !list.IsList() {
		return nil
	}
	h := &MessageHeader{ID: id, Flags: make(map[string]bool)}
	var internalDate string

	items := list.Children()
	for i := 0; i+1 < len(items); i++ {
		name := strings.ToUpper(items[i].Value())

		// BODY[HEADER.FIELDS (A B)] tokenizes as the name, the field
		// list, a closing "]" and then the data
		if strings.HasPrefix(name, "BODY[") && (strings.HasSuffix(name, "HEADER.FIELDS") || strings.HasSuffix(name, "HEADER.FIELDS.NOT")) {
			if i+3 >= len(items) {
				break
			}
			var requested []string
			if strings.HasSuffix(name, "HEADER.FIELDS") {
				requested = items[i+1].Strings()
			}
			h.applyHeaderBlock(items[i+3].Value(), requested)
			i += 3
			continue
		}

		value := items[i+1]
		i++
		switch {
		case name == "UID":
			h.UID, _ = value.Int()
		case name == "RFC822.SIZE":
			h.Size, _ = value.Int()
		case name == "RFC822.TEXT", name == "RFC822":
			h.Body = value.Value()
		case name == "RFC822.HEADER":
			h.applyHeaderBlock(value.Value(), nil)
		case name == "INTERNALDATE":
			internalDate = value.Value()
			if t, err := time.Parse(internalDateLayout, internalDate); err == nil {
				h.InternalDate = t
			}
		case name == "FLAGS":
			for _, f := range value.Strings() {
				h.Flags[normalizeFlag(f)] = true
			}
		case name == "MODSEQ":
			if v := value.Children(); len(v) > 0 {
				h.ModSeq = v[0].Value()
			} else {
				h.ModSeq = value.Value()
			}
		case name == "ENVELOPE":
			h.Envelope = value
		case name == "BODYSTRUCTURE", name == "BODY" && value.IsList():
			h.BodyStructure = value
		case strings.HasPrefix(name, "BODY["):
			section := name[5:]
			if end := strings.IndexByte(section, ']'); end >= 0 {
				section = section[:end]
			}
			switch section {
			case "":
				h.Body = value.Value()
			case "HEADER":
				h.applyHeaderBlock(value.Value(), nil)
				fallthrough
			default:
				if h.BodyParts == nil {
					h.BodyParts = make(map[string]string)
				}
				h.BodyParts[section] = value.Value()
			}
		}
	}

	if h.Date == "" && internalDate != "" {
		h.Date = internalDate
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = h.InternalDate
	}
	return h
}
