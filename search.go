package imap

import (
	"cmp"
	"slices"
	"strconv"
	"strings"
)

// ResultIndex is an ordered list of message identifiers from SEARCH,
// SORT, ESEARCH or the client side Index fallback
type ResultIndex struct {
	Mailbox   string
	SortField string
	// SortOrder is "ASC" for server and Index results, "DESC" once reversed
	SortOrder string

	ids    []int
	params map[string]string
	err    bool
}

func newResultIndex(mailbox string) *ResultIndex {
	return &ResultIndex{Mailbox: mailbox, SortOrder: "ASC", params: make(map[string]string)}
}

func errorIndex(mailbox string) *ResultIndex {
	r := newResultIndex(mailbox)
	r.err = true
	return r
}

// IsError reports whether the index stands for a failed command
func (r *ResultIndex) IsError() bool { return r.err }

// IsEmpty reports whether the index holds no messages
func (r *ResultIndex) IsEmpty() bool { return r.Count() == 0 }

// Count returns the number of messages, using the ESEARCH COUNT item when
// only counts were requested
func (r *ResultIndex) Count() int {
	if len(r.ids) == 0 {
		if n, err := strconv.Atoi(r.params["COUNT"]); err == nil {
			return n
		}
	}
	return len(r.ids)
}

// Min returns the lowest identifier, 0 for an empty index
func (r *ResultIndex) Min() int {
	if len(r.ids) == 0 {
		n, _ := strconv.Atoi(r.params["MIN"])
		return n
	}
	return slices.Min(r.ids)
}

// Max returns the highest identifier, 0 for an empty index
func (r *ResultIndex) Max() int {
	if len(r.ids) == 0 {
		n, _ := strconv.Atoi(r.params["MAX"])
		return n
	}
	return slices.Max(r.ids)
}

// IDs returns the identifiers in result order
func (r *ResultIndex) IDs() []int { return slices.Clone(r.ids) }

// Contains reports whether id is part of the index
func (r *ResultIndex) Contains(id int) bool { return slices.Contains(r.ids, id) }

// Param returns a result parameter such as an ESEARCH item ("COUNT",
// "MODSEQ") or "ORDER"
func (r *ResultIndex) Param(name string) string {
	if strings.EqualFold(name, "ORDER") {
		return r.SortOrder
	}
	return r.params[strings.ToUpper(name)]
}

func (r *ResultIndex) clone() *ResultIndex {
	out := *r
	out.ids = slices.Clone(r.ids)
	out.params = make(map[string]string, len(r.params))
	for k, v := range r.params {
		out.params[k] = v
	}
	return &out
}

// Reverse returns the index in the opposite order
func (r *ResultIndex) Reverse() *ResultIndex {
	out := r.clone()
	slices.Reverse(out.ids)
	if out.SortOrder == "DESC" {
		out.SortOrder = "ASC"
	} else {
		out.SortOrder = "DESC"
	}
	return out
}

// Slice returns length identifiers starting at offset
func (r *ResultIndex) Slice(offset, length int) *ResultIndex {
	out := r.clone()
	start := min(max(offset, 0), len(out.ids))
	end := len(out.ids)
	if length >= 0 {
		end = min(start+length, end)
	}
	out.ids = out.ids[start:end]
	return out
}

// String returns the index as a compressed message set
func (r *ResultIndex) String() string {
	return CompressMessageSet(r.ids)
}

// parseIndexLines reads identifiers from "* SEARCH", "* SORT" and
// "* ESEARCH" responses
func parseIndexLines(r *ResultIndex, lines []string) {
	for _, l := range lines {
		switch {
		case hasPrefixFold(l, "* SEARCH"):
			parseIDList(r, l[8:])
		case hasPrefixFold(l, "* SORT"):
			parseIDList(r, l[6:])
		case hasPrefixFold(l, "* ESEARCH"):
			parseESearch(r, l[9:])
		}
	}
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// parseIDList reads "1 4 7 (MODSEQ 917162500)"
func parseIDList(r *ResultIndex, rest string) {
	if i := strings.IndexByte(rest, '('); i >= 0 {
		mod := rest[i:]
		items := TokenizeOne(&mod).Children()
		for j := 0; j+1 < len(items); j += 2 {
			r.params[strings.ToUpper(items[j].Value())] = items[j+1].Value()
		}
		rest = rest[:i]
	}
	for _, f := range strings.Fields(rest) {
		if n, err := strconv.Atoi(f); err == nil {
			r.ids = append(r.ids, n)
		}
	}
}

// parseESearch reads `(TAG "A0003") UID COUNT 3 ALL 2:4`
func parseESearch(r *ResultIndex, rest string) {
	items := Tokenize(&rest, 0)
	for i := 0; i < len(items); i++ {
		t := items[i]
		if t.IsList() || strings.EqualFold(t.Value(), "UID") {
			continue
		}
		if i+1 >= len(items) {
			break
		}
		name := strings.ToUpper(t.Value())
		value := items[i+1].Value()
		i++
		if name == "ALL" {
			r.ids = append(r.ids, UncompressMessageSet(value)...)
			continue
		}
		r.params[name] = value
	}
}

// searchable selects mailbox and reports whether it has messages
func (c *Client) searchable(mailbox string) (bool, error) {
	if err := c.ensureSelected(mailbox); err != nil {
		return false, err
	}
	return c.session.Exists > 0, nil
}

// Search runs SEARCH with criteria ("ALL" when empty). Requesting items
// (COUNT, MIN, MAX, ALL) uses ESEARCH when the server supports it, the
// items are computed locally otherwise. The returned index is never nil
// and IsError is set when err is.
func (c *Client) Search(mailbox, criteria string, returnUID bool, items ...string) (*ResultIndex, error) {
	ok, err := c.searchable(mailbox)
	if err != nil {
		return errorIndex(mailbox), err
	}
	r := newResultIndex(mailbox)
	if !ok {
		if len(items) > 0 {
			r.params["COUNT"] = "0"
		}
		return r, nil
	}

	esearch := len(items) > 0 && c.Capability("ESEARCH")
	command := "SEARCH"
	if returnUID {
		command = "UID SEARCH"
	}
	var args []any
	if esearch {
		args = append(args, "RETURN", items)
	}
	criteria = strings.TrimSpace(criteria)
	if criteria == "" {
		criteria = "ALL"
	}
	args = append(args, criteria)

	resp, err := c.Execute(command, args, 0)
	if err != nil {
		return errorIndex(mailbox), err
	}
	parseIndexLines(r, resp.Lines)

	if len(items) > 0 && !esearch {
		computeItems(r, items)
	}
	return r, nil
}

// computeItems fills the requested result items from the ids of r, for
// servers that cannot return them. The ids are kept only when ALL is
// requested.
func computeItems(r *ResultIndex, items []string) {
	counted := r.clone()
	for _, it := range items {
		switch strings.ToUpper(it) {
		case "COUNT":
			r.params["COUNT"] = strconv.Itoa(counted.Count())
		case "MIN":
			r.params["MIN"] = strconv.Itoa(counted.Min())
		case "MAX":
			r.params["MAX"] = strconv.Itoa(counted.Max())
		case "ALL":
			r.params["ALL"] = counted.String()
		}
	}
	if !containsFold(items, "ALL") {
		r.ids = nil
	}
}

var sortFields = []string{"ARRIVAL", "CC", "DATE", "FROM", "SIZE", "SUBJECT", "TO"}

// Sort runs SORT on field. INTERNALDATE sorts by ARRIVAL; FROM and TO
// become DISPLAYFROM and DISPLAYTO when SORT=DISPLAY is advertised.
// Encoding defaults to US-ASCII. Requested items use ESORT RETURN options
// when the server supports them and are computed locally otherwise, as in
// Search.
func (c *Client) Sort(mailbox, field, criteria string, returnUID bool, encoding string, items ...string) (*ResultIndex, error) {
	field = strings.ToUpper(strings.TrimSpace(field))
	if field == "INTERNALDATE" {
		field = "ARRIVAL"
	}
	if !slices.Contains(sortFields, field) {
		return errorIndex(mailbox), c.setError(StatusBad, "SORT: unsupported sort field "+field, nil)
	}
	if !c.Capability("SORT") {
		return errorIndex(mailbox), c.setError(StatusBad, "SORT: not supported by server", nil)
	}
	if c.Capability("SORT=DISPLAY") && (field == "FROM" || field == "TO") {
		field = "DISPLAY" + field
	}

	ok, err := c.searchable(mailbox)
	if err != nil {
		return errorIndex(mailbox), err
	}
	r := newResultIndex(mailbox)
	r.SortField = field
	if !ok {
		if len(items) > 0 {
			r.params["COUNT"] = "0"
		}
		return r, nil
	}

	if encoding = strings.TrimSpace(encoding); encoding == "" {
		encoding = "US-ASCII"
	}
	command := "SORT"
	if returnUID {
		command = "UID SORT"
	}
	esort := len(items) > 0 && c.Capability("ESORT")
	var args []any
	if esort {
		args = append(args, "RETURN", items)
	}
	args = append(args, "("+field+")", encoding, allCriteria(criteria))

	resp, err := c.Execute(command, args, 0)
	if err != nil {
		e := errorIndex(mailbox)
		e.SortField = field
		return e, err
	}
	parseIndexLines(r, resp.Lines)
	if len(items) > 0 && !esort {
		computeItems(r, items)
	}
	return r, nil
}

func allCriteria(criteria string) string {
	criteria = strings.TrimSpace(criteria)
	if criteria == "" || strings.EqualFold(criteria, "ALL") {
		return "ALL"
	}
	return "ALL " + criteria
}

// index field modes of the client side sort
const (
	indexHeader = iota + 1
	indexNumber
	indexFlag
	indexInternalDate
)

var indexFields = map[string]int{
	"DATE":         indexHeader,
	"FROM":         indexHeader,
	"REPLY-TO":     indexHeader,
	"SENDER":       indexHeader,
	"TO":           indexHeader,
	"CC":           indexHeader,
	"SUBJECT":      indexHeader,
	"UID":          indexNumber,
	"SIZE":         indexNumber,
	"SEEN":         indexFlag,
	"RECENT":       indexFlag,
	"DELETED":      indexFlag,
	"INTERNALDATE": indexInternalDate,
	"ARRIVAL":      indexInternalDate,
}

type indexKey struct {
	id  int
	num int64
	str string
}

// Index sorts set client side by field, for servers without SORT. It
// fetches the field for every message and orders the identifiers
// ascending. Deleted messages are left out when skipDeleted is set.
func (c *Client) Index(mailbox, set, field string, skipDeleted, isUID, returnUID bool) (*ResultIndex, error) {
	field = strings.ToUpper(strings.TrimSpace(field))
	mode, known := indexFields[field]
	if !known {
		return errorIndex(mailbox), c.setError(StatusBad, "index: unsupported field "+field, nil)
	}
	ok, err := c.searchable(mailbox)
	if err != nil {
		return errorIndex(mailbox), err
	}
	r := newResultIndex(mailbox)
	r.SortField = field
	if !ok {
		return r, nil
	}
	if set == "" {
		set = "1:*"
	}

	var items []string
	if returnUID {
		items = append(items, "UID")
	}
	switch mode {
	case indexHeader:
		if field == "DATE" {
			items = append(items, "INTERNALDATE")
		}
		items = append(items, "BODY.PEEK[HEADER.FIELDS ("+field+")]")
	case indexNumber:
		if field == "SIZE" {
			items = append(items, "RFC822.SIZE")
		} else if !returnUID {
			items = append(items, "UID")
		}
	case indexFlag:
		items = append(items, "FLAGS")
	case indexInternalDate:
		items = append(items, "INTERNALDATE")
	}
	if skipDeleted && mode != indexFlag {
		items = append(items, "FLAGS")
	}

	headers, err := c.Fetch(mailbox, set, isUID, items, nil)
	if err != nil {
		e := errorIndex(mailbox)
		e.SortField = field
		return e, err
	}

	keys := make([]indexKey, 0, len(headers))
	for _, h := range headers {
		if skipDeleted && h.Flags["DELETED"] {
			continue
		}
		k := indexKey{id: h.ID}
		if returnUID {
			k.id = h.UID
		}
		switch mode {
		case indexHeader:
			if field == "DATE" {
				k.num = h.Timestamp.Unix()
				break
			}
			k.str = strings.ToLower(DecodeHeader(headerField(h, field)))
		case indexNumber:
			if field == "SIZE" {
				k.num = int64(h.Size)
			} else {
				k.num = int64(h.UID)
			}
		case indexFlag:
			if h.Flags[field] {
				k.num = 1
			}
		case indexInternalDate:
			k.num = h.InternalDate.Unix()
		}
		keys = append(keys, k)
	}

	slices.SortStableFunc(keys, func(a, b indexKey) int {
		return cmp.Or(cmp.Compare(a.num, b.num), strings.Compare(a.str, b.str))
	})
	for _, k := range keys {
		r.ids = append(r.ids, k.id)
	}
	return r, nil
}

func headerField(h *MessageHeader, field string) string {
	switch field {
	case "FROM":
		return h.From
	case "TO":
		return h.To
	case "CC":
		return h.CC
	case "SUBJECT":
		return h.Subject
	case "REPLY-TO":
		return h.ReplyTo
	}
	if v := h.Others[strings.ToLower(field)]; len(v) > 0 {
		return v[0]
	}
	return ""
}
