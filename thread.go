package imap

import (
	"strings"
)

// Thread is one message of a conversation tree
type Thread struct {
	ID       int
	Children []*Thread
}

// ResultThread is the forest returned by THREAD
type ResultThread struct {
	Mailbox   string
	Algorithm string
	Threads   []*Thread
	err       bool
}

// IsError reports whether the result stands for a failed command
func (r *ResultThread) IsError() bool { return r.err }

// IsEmpty reports whether no thread was returned
func (r *ResultThread) IsEmpty() bool { return len(r.Threads) == 0 }

// Count returns the number of threads
func (r *ResultThread) Count() int { return len(r.Threads) }

// CountMessages returns the number of messages over all threads
func (r *ResultThread) CountMessages() int { return len(r.IDs()) }

// IDs returns every message identifier in depth-first order
func (r *ResultThread) IDs() []int {
	var out []int
	var walk func([]*Thread)
	walk = func(ts []*Thread) {
		for _, t := range ts {
			out = append(out, t.ID)
			walk(t.Children)
		}
	}
	walk(r.Threads)
	return out
}

// Depth returns each message's nesting level, roots are at 0
func (r *ResultThread) Depth() map[int]int {
	out := make(map[int]int)
	var walk func([]*Thread, int)
	walk = func(ts []*Thread, d int) {
		for _, t := range ts {
			out[t.ID] = d
			walk(t.Children, d+1)
		}
	}
	walk(r.Threads, 0)
	return out
}

// parseThreads builds the forest from the token lists of a THREAD line.
// Within a list each number is the child of the one before it and a
// nested list is a branch under the last number. Lists without a leading
// number (a missing common parent) contribute their branches as roots.
func parseThreads(items []*Token) []*Thread {
	var roots []*Thread
	var last *Thread
	for _, t := range items {
		if t.IsList() {
			subs := parseThreads(t.Children())
			if last == nil {
				roots = append(roots, subs...)
			} else {
				last.Children = append(last.Children, subs...)
			}
			continue
		}
		n, ok := t.Int()
		if !ok {
			continue
		}
		node := &Thread{ID: n}
		if last == nil {
			roots = append(roots, node)
		} else {
			last.Children = append(last.Children, node)
		}
		last = node
	}
	return roots
}

// Thread runs THREAD with algorithm (REFERENCES by default) over the
// messages matching criteria. The server must advertise THREAD=<algorithm>.
// The returned result is never nil and IsError is set when err is.
func (c *Client) Thread(mailbox, algorithm, criteria string, returnUID bool, encoding string) (*ResultThread, error) {
	algorithm = strings.ToUpper(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = "REFERENCES"
	}
	failed := &ResultThread{Mailbox: mailbox, Algorithm: algorithm, err: true}
	if !c.Capability("THREAD=" + algorithm) {
		return failed, c.setError(StatusBad, "THREAD: algorithm "+algorithm+" not supported by server", nil)
	}
	ok, err := c.searchable(mailbox)
	if err != nil {
		return failed, err
	}
	r := &ResultThread{Mailbox: mailbox, Algorithm: algorithm}
	if !ok {
		return r, nil
	}

	if encoding = strings.TrimSpace(encoding); encoding == "" {
		encoding = "US-ASCII"
	}
	command := "THREAD"
	if returnUID {
		command = "UID THREAD"
	}
	resp, err := c.Execute(command, []any{algorithm, encoding, allCriteria(criteria)}, 0)
	if err != nil {
		return failed, err
	}
	for _, l := range resp.Lines {
		if hasPrefixFold(l, "* THREAD") {
			rest := l[8:]
			for _, t := range Tokenize(&rest, 0) {
				if t.IsList() {
					r.Threads = append(r.Threads, parseThreads(t.Children())...)
				}
			}
		}
	}
	return r, nil
}
