package imap

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/utf7"
)

// Session is the state of the selected mailbox
type Session struct {
	Mailbox     string
	Exists      int
	Recent      int
	UIDNext     int
	UIDValidity int
	Unseen      int
	// HighestModSeq is kept as text, mod-sequences may exceed 63 bits
	HighestModSeq string
	NoModSeq      bool
	Flags         []string
	// PermanentFlags lists flag names without the leading backslash
	PermanentFlags []string
	ReadWrite      bool
	// Vanished holds UIDs reported expunged through QRESYNC
	Vanished []int
	// QResync holds the FETCH data piggybacked on a QRESYNC select, by UID
	QResync map[int]*MessageHeader
}

// QResync is the parameter tuple of SELECT (QRESYNC ...)
type QResync struct {
	UIDValidity int
	ModSeq      string
	KnownUIDs   []int
}

// Session returns a copy of the selected mailbox state
func (c *Client) Session() Session {
	s := c.session
	s.Flags = slices.Clone(s.Flags)
	s.PermanentFlags = slices.Clone(s.PermanentFlags)
	s.Vanished = slices.Clone(s.Vanished)
	s.QResync = maps.Clone(s.QResync)
	return s
}

// Mailbox returns the selected mailbox name, "" when none is selected
func (c *Client) Mailbox() string {
	if c.state != StateSelected {
		return ""
	}
	return c.session.Mailbox
}

var (
	selectNumRE  = regexp.MustCompile(`(?i)^\* (\d+) (EXISTS|RECENT|FETCH)\b`)
	vanishedRE   = regexp.MustCompile(`(?i)^\* VANISHED(?: \(EARLIER\))? *`)
	untaggedFlag = regexp.MustCompile(`(?i)^\* FLAGS `)
)

// stripFlag removes the system flag backslash, "\Seen" becomes "Seen"
func stripFlag(f string) string {
	return strings.TrimPrefix(f, `\`)
}

// Select opens mailbox read-write. With q set and QRESYNC supported the
// server reports changes since q.ModSeq.
func (c *Client) Select(mailbox string, q *QResync) error {
	return c.selectMailbox("SELECT", mailbox, q)
}

// Examine opens mailbox read-only
func (c *Client) Examine(mailbox string) error {
	return c.selectMailbox("EXAMINE", mailbox, nil)
}

func (c *Client) selectMailbox(command, mailbox string, q *QResync) error {
	if mailbox == "" {
		return c.setError(StatusBad, command+": empty mailbox name", nil)
	}
	args := []any{Escape(mailbox)}
	if q != nil {
		if !c.Capability("QRESYNC") {
			return c.setError(StatusBad, command+": server does not support QRESYNC", nil)
		}
		if !c.enabled["QRESYNC"] {
			if _, err := c.Enable("QRESYNC"); err != nil {
				return err
			}
		}
		params := []any{q.UIDValidity, q.ModSeq}
		if len(q.KnownUIDs) > 0 {
			params = append(params, CompressMessageSet(q.KnownUIDs))
		}
		args = append(args, []any{"QRESYNC", params})
	}

	resp, err := c.Execute(command, args, 0)
	if err != nil {
		// a failed SELECT leaves no mailbox selected
		if c.state == StateSelected {
			c.state = StateAuthenticated
		}
		c.session = Session{}
		return err
	}

	s := Session{Mailbox: mailbox}
	for _, line := range resp.Lines {
		if code, args, ok := responseCode(line); ok {
			switch code {
			case "UIDNEXT":
				s.UIDNext = leadingInt(args)
			case "UIDVALIDITY":
				s.UIDValidity = leadingInt(args)
			case "UNSEEN":
				s.Unseen = leadingInt(args)
			case "HIGHESTMODSEQ":
				s.HighestModSeq = leadingDigits(args)
			case "NOMODSEQ":
				s.NoModSeq = true
			case "PERMANENTFLAGS":
				rest := args
				if tks := Tokenize(&rest, 1); len(tks) == 1 {
					for _, f := range tks[0].Strings() {
						s.PermanentFlags = append(s.PermanentFlags, stripFlag(f))
					}
				}
			}
			continue
		}
		if m := selectNumRE.FindStringSubmatch(line); m != nil {
			n, _ := strconv.Atoi(m[1])
			switch strings.ToUpper(m[2]) {
			case "EXISTS":
				s.Exists = n
			case "RECENT":
				s.Recent = n
			case "FETCH":
				h := parseFetchLine(n, line[len(m[0]):])
				if h != nil && h.UID > 0 {
					if s.QResync == nil {
						s.QResync = make(map[int]*MessageHeader)
					}
					s.QResync[h.UID] = h
				}
			}
			continue
		}
		if m := vanishedRE.FindString(line); m != "" {
			s.Vanished = c.appendVanished(s.Vanished, strings.TrimSpace(line[len(m):]))
			continue
		}
		if loc := untaggedFlag.FindStringIndex(line); loc != nil {
			rest := line[loc[1]:]
			if tks := Tokenize(&rest, 1); len(tks) == 1 {
				s.Flags = tks[0].Strings()
			}
		}
	}
	s.ReadWrite = resp.Result.Code != "READ-ONLY"
	if command == "EXAMINE" && resp.Result.Code == "" {
		s.ReadWrite = false
	}

	c.session = s
	c.state = StateSelected
	c.debugLog("mailbox selected", "exists", s.Exists, "uidnext", s.UIDNext, "read_write", s.ReadWrite)
	return nil
}

func leadingDigits(s string) string {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	return s[:i]
}

func leadingInt(s string) int {
	n, _ := strconv.Atoi(leadingDigits(s))
	return n
}

// ensureSelected selects mailbox unless it is already selected. An empty
// name uses the current mailbox.
func (c *Client) ensureSelected(mailbox string) error {
	if c.state == StateSelected && (mailbox == "" || mailbox == c.session.Mailbox) {
		return nil
	}
	if mailbox == "" {
		return c.setError(StatusBad, "no mailbox selected", nil)
	}
	return c.Select(mailbox, nil)
}

// requireWritable fails with StatusReadOnly for read-only sessions
func (c *Client) requireWritable(op string) error {
	if !c.session.ReadWrite {
		return c.setError(StatusReadOnly, op+": mailbox "+c.session.Mailbox+" is read-only", nil)
	}
	return nil
}

// Enable turns on extensions (RFC 5161) and returns those the server enabled
func (c *Client) Enable(extensions ...string) ([]string, error) {
	args := make([]any, len(extensions))
	for i, e := range extensions {
		args[i] = e
	}
	resp, err := c.Execute("ENABLE", args, 0)
	if err != nil {
		return nil, err
	}
	var enabled []string
	for _, l := range resp.Lines {
		if len(l) > 10 && strings.EqualFold(l[:10], "* ENABLED ") {
			for _, e := range strings.Fields(l[10:]) {
				e = strings.ToUpper(e)
				c.enabled[e] = true
				enabled = append(enabled, e)
			}
		}
	}
	return enabled, nil
}

// MailboxStatus maps STATUS item names to their values
type MailboxStatus map[string]string

// Int returns an item as an integer
func (s MailboxStatus) Int(name string) int {
	n, _ := strconv.Atoi(s[strings.ToUpper(name)])
	return n
}

// parseStatusItems turns "(MESSAGES 3 UNSEEN 1)" into a MailboxStatus
func parseStatusItems(list *Token) MailboxStatus {
	st := make(MailboxStatus)
	items := list.Children()
	for i := 0; i+1 < len(items); i += 2 {
		st[strings.ToUpper(items[i].Value())] = items[i+1].Value()
	}
	return st
}

// parseStatusLine parses the part of a STATUS response after "* STATUS "
func parseStatusLine(rest string) (string, MailboxStatus) {
	s := rest
	tks := Tokenize(&s, 2)
	if len(tks) == 2 && tks[1].IsList() {
		return tks[0].Value(), parseStatusItems(tks[1])
	}
	// some servers send names with spaces unquoted
	i := strings.LastIndexByte(rest, '(')
	if i <= 0 {
		return "", nil
	}
	s = rest[i:]
	list := TokenizeOne(&s)
	if !list.IsList() {
		return "", nil
	}
	return strings.TrimSpace(rest[:i]), parseStatusItems(list)
}

// Status requests STATUS items for mailbox. MESSAGES and UNSEEN are
// always included.
func (c *Client) Status(mailbox string, items ...string) (MailboxStatus, error) {
	if mailbox == "" {
		return nil, c.setError(StatusBad, "STATUS: empty mailbox name", nil)
	}
	req := slices.Clone(items)
	for _, want := range []string{"MESSAGES", "UNSEEN"} {
		if !slices.ContainsFunc(req, func(s string) bool { return strings.EqualFold(s, want) }) {
			req = append(req, want)
		}
	}
	resp, err := c.Execute("STATUS", []any{Escape(mailbox), req}, 0)
	if err != nil {
		return nil, err
	}
	for _, l := range resp.Lines {
		if len(l) > 9 && strings.EqualFold(l[:9], "* STATUS ") {
			if _, st := parseStatusLine(l[9:]); st != nil {
				return st, nil
			}
		}
	}
	return nil, c.setError(StatusUnknown, "STATUS: no STATUS response for "+mailbox, nil)
}

// Mailbox is one LIST or LSUB entry
type Mailbox struct {
	// Name as sent by the server (modified UTF-7)
	Name string
	// DisplayName is Name decoded to UTF-8
	DisplayName string
	Delimiter   string
	Attributes  []string
	Status      MailboxStatus
	MyRights    string
}

// ListOptions control LIST and LSUB
type ListOptions struct {
	// Subscribed uses LSUB
	Subscribed bool
	// SelectOpts are LIST-EXTENDED selection options, e.g. SUBSCRIBED
	SelectOpts []string
	// ReturnOpts are LIST-EXTENDED return options, e.g. CHILDREN
	ReturnOpts []string
	// StatusItems requests LIST-STATUS data (RFC 5819)
	StatusItems []string
	// MyRights requests MYRIGHTS for each mailbox
	MyRights bool
}

// List runs LIST (or LSUB) and returns the matching mailboxes. Attributes
// are also kept by name, see MailboxOptions.
func (c *Client) List(ref, pattern string, opts *ListOptions) ([]Mailbox, error) {
	if opts == nil {
		opts = &ListOptions{}
	}
	command := "LIST"
	var args []any
	var returnOpts []any
	for _, o := range opts.ReturnOpts {
		returnOpts = append(returnOpts, o)
	}

	if opts.Subscribed {
		command = "LSUB"
	} else {
		extended := c.Capability("LIST-EXTENDED")
		if len(opts.SelectOpts) > 0 && extended {
			args = append(args, opts.SelectOpts)
		}
		if len(opts.StatusItems) > 0 && c.Capability("LIST-STATUS") {
			returnOpts = append(returnOpts, "STATUS", opts.StatusItems)
		}
		if !extended {
			returnOpts = nil
		}
	}
	args = append(args, EscapeQuoted(ref), EscapeQuoted(pattern))
	if len(returnOpts) > 0 {
		args = append(args, "RETURN", returnOpts)
	}

	resp, err := c.Execute(command, args, 0)
	if err != nil {
		return nil, err
	}

	var boxes []Mailbox
	byName := make(map[string]int)
	prefix := "* " + command + " "
	for _, l := range resp.Lines {
		switch {
		case len(l) > len(prefix) && strings.EqualFold(l[:len(prefix)], prefix):
			rest := l[len(prefix):]
			tks := Tokenize(&rest, 3)
			if len(tks) < 3 {
				continue
			}
			mb := Mailbox{
				Delimiter:  tks[1].Value(),
				Attributes: tks[0].Strings(),
			}
			mb.Name = tks[2].Value()
			if mb.Delimiter != "" && mb.Name != mb.Delimiter {
				mb.Name = strings.TrimSuffix(mb.Name, mb.Delimiter)
			}
			mb.DisplayName = DecodeMailboxName(mb.Name)
			c.mailboxOpts[mb.Name] = mergeOpts(c.mailboxOpts[mb.Name], mb.Attributes)
			byName[mb.Name] = len(boxes)
			boxes = append(boxes, mb)
		case len(l) > 9 && strings.EqualFold(l[:9], "* STATUS "):
			name, st := parseStatusLine(l[9:])
			if i, ok := byName[name]; ok {
				boxes[i].Status = st
			}
		case len(l) > 11 && strings.EqualFold(l[:11], "* MYRIGHTS "):
			rest := l[11:]
			if tks := Tokenize(&rest, 2); len(tks) == 2 {
				if i, ok := byName[tks[0].Value()]; ok {
					boxes[i].MyRights = tks[1].Value()
				}
			}
		}
	}

	if opts.MyRights && !opts.Subscribed && c.Capability("ACL") {
		for i := range boxes {
			if slices.ContainsFunc(boxes[i].Attributes, func(a string) bool { return strings.EqualFold(a, `\Noselect`) }) {
				continue
			}
			if r, err := c.MyRights(boxes[i].Name); err == nil {
				boxes[i].MyRights = r.Rights
			}
		}
	}
	return boxes, nil
}

func mergeOpts(have, add []string) []string {
	for _, a := range add {
		if !slices.Contains(have, a) {
			have = append(have, a)
		}
	}
	return have
}

// MailboxOptions returns the LIST attributes seen for mailbox so far
func (c *Client) MailboxOptions(mailbox string) []string {
	return slices.Clone(c.mailboxOpts[mailbox])
}

// NamespaceEntry is one namespace prefix and its delimiter
type NamespaceEntry struct {
	Prefix    string
	Delimiter string
}

// Namespaces is the NAMESPACE response (RFC 2342)
type Namespaces struct {
	Personal []NamespaceEntry
	Other    []NamespaceEntry
	Shared   []NamespaceEntry
}

func parseNamespaceGroup(t *Token) []NamespaceEntry {
	var out []NamespaceEntry
	for _, e := range t.Children() {
		parts := e.Children()
		if len(parts) < 2 {
			continue
		}
		out = append(out, NamespaceEntry{Prefix: parts[0].Value(), Delimiter: parts[1].Value()})
	}
	return out
}

func (c *Client) configuredNamespaces() *Namespaces {
	if c.cfg.NamespacePersonal == nil && c.cfg.NamespaceOther == nil && c.cfg.NamespaceShared == nil {
		return nil
	}
	entries := func(prefixes []string) []NamespaceEntry {
		var out []NamespaceEntry
		for _, p := range prefixes {
			out = append(out, NamespaceEntry{Prefix: p, Delimiter: c.cfg.Delimiter})
		}
		return out
	}
	return &Namespaces{
		Personal: entries(c.cfg.NamespacePersonal),
		Other:    entries(c.cfg.NamespaceOther),
		Shared:   entries(c.cfg.NamespaceShared),
	}
}

// Namespace returns the server's namespaces. Configured namespace prefixes
// take precedence and skip the NAMESPACE command.
func (c *Client) Namespace() (*Namespaces, error) {
	if c.namespaces != nil {
		return c.namespaces, nil
	}
	if ns := c.configuredNamespaces(); ns != nil {
		c.namespaces = ns
		return ns, nil
	}
	if !c.Capability("NAMESPACE") {
		return nil, c.setError(StatusBad, "NAMESPACE: not supported by server", nil)
	}
	resp, err := c.Execute("NAMESPACE", nil, 0)
	if err != nil {
		return nil, err
	}
	for _, l := range resp.Lines {
		if len(l) > 12 && strings.EqualFold(l[:12], "* NAMESPACE ") {
			rest := l[12:]
			tks := Tokenize(&rest, 3)
			if len(tks) != 3 {
				break
			}
			c.namespaces = &Namespaces{
				Personal: parseNamespaceGroup(tks[0]),
				Other:    parseNamespaceGroup(tks[1]),
				Shared:   parseNamespaceGroup(tks[2]),
			}
			return c.namespaces, nil
		}
	}
	return nil, c.setError(StatusUnknown, "NAMESPACE: malformed response", nil)
}

// HierarchyDelimiter returns the mailbox hierarchy separator, from
// configuration or from LIST "" ""
func (c *Client) HierarchyDelimiter() (string, error) {
	if c.cfg.Delimiter != "" {
		return c.cfg.Delimiter, nil
	}
	if c.delimiter != "" {
		return c.delimiter, nil
	}
	resp, err := c.Execute("LIST", []any{`""`, `""`}, 0)
	if err != nil {
		return "", err
	}
	for _, l := range resp.Lines {
		if len(l) > 7 && strings.EqualFold(l[:7], "* LIST ") {
			rest := l[7:]
			if tks := Tokenize(&rest, 2); len(tks) == 2 && !tks[1].IsNil() {
				c.delimiter = tks[1].Value()
				return c.delimiter, nil
			}
		}
	}
	// fall back to the personal namespace
	if ns, err := c.Namespace(); err == nil && len(ns.Personal) > 0 && ns.Personal[0].Delimiter != "" {
		c.delimiter = ns.Personal[0].Delimiter
		return c.delimiter, nil
	}
	return "", c.setError(StatusUnknown, "unable to determine hierarchy delimiter", nil)
}

// Rights is a MYRIGHTS answer (RFC 4314)
type Rights struct {
	Mailbox string
	Rights  string
}

// Has reports whether right r is granted
func (r Rights) Has(right rune) bool {
	return strings.ContainsRune(r.Rights, right)
}

// MyRights returns the current user's rights on mailbox
func (c *Client) MyRights(mailbox string) (*Rights, error) {
	resp, err := c.Execute("MYRIGHTS", []any{Escape(mailbox)}, 0)
	if err != nil {
		return nil, err
	}
	for _, l := range resp.Lines {
		if len(l) > 11 && strings.EqualFold(l[:11], "* MYRIGHTS ") {
			rest := l[11:]
			if tks := Tokenize(&rest, 2); len(tks) == 2 {
				return &Rights{Mailbox: tks[0].Value(), Rights: tks[1].Value()}, nil
			}
		}
	}
	return nil, c.setError(StatusUnknown, "MYRIGHTS: no MYRIGHTS response for "+mailbox, nil)
}

// ID exchanges client and server identification (RFC 2971). A nil or
// empty params sends NIL.
func (c *Client) ID(params map[string]string) (map[string]string, error) {
	var arg any
	if len(params) > 0 {
		keys := slices.Collect(maps.Keys(params))
		sort.Strings(keys)
		list := make([]any, 0, 2*len(keys))
		for _, k := range keys {
			list = append(list, EscapeQuoted(k), EscapeQuoted(params[k]))
		}
		arg = list
	}
	resp, err := c.Execute("ID", []any{arg}, 0)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	for _, l := range resp.Lines {
		if len(l) > 5 && strings.EqualFold(l[:5], "* ID ") {
			rest := l[5:]
			items := TokenizeOne(&rest).Children()
			for i := 0; i+1 < len(items); i += 2 {
				out[items[i].Value()] = items[i+1].Value()
			}
		}
	}
	return out, nil
}

// EncodeMailboxName converts a UTF-8 mailbox name to modified UTF-7
func EncodeMailboxName(name string) string {
	enc, err := utf7.Encoding.NewEncoder().String(name)
	if err != nil {
		return name
	}
	return enc
}

// DecodeMailboxName converts a modified UTF-7 mailbox name to UTF-8. Names
// that are not valid modified UTF-7 are returned unchanged.
func DecodeMailboxName(name string) string {
	dec, err := utf7.Encoding.NewDecoder().String(name)
	if err != nil {
		return name
	}
	return dec
}

func (mb Mailbox) String() string {
	return fmt.Sprintf("%s (%s)", mb.DisplayName, strings.Join(mb.Attributes, " "))
}
