package imap

import (
	"fmt"
	"slices"
	"strings"
)

// FolderStats represents statistics for a mailbox
type FolderStats struct {
	Name    string
	Count   int
	Unseen  int
	UIDNext int
	Error   error
}

// FolderStats lists every selectable mailbox, starting at startFolder
// when it is set and skipping excluded ones, and collects its STATUS.
// Per-mailbox failures are kept in FolderStats.Error. The selected mailbox
// is left untouched.
func (c *Client) FolderStats(startFolder string, excluded ...string) ([]FolderStats, error) {
	boxes, err := c.List("", "*", nil)
	if err != nil {
		return nil, err
	}

	startFound := startFolder == ""
	var stats []FolderStats
	for _, mb := range boxes {
		if !startFound {
			if mb.Name != startFolder {
				continue
			}
			startFound = true
		}
		if slices.Contains(excluded, mb.Name) {
			continue
		}
		if slices.ContainsFunc(mb.Attributes, func(a string) bool {
			return strings.EqualFold(a, `\Noselect`) || strings.EqualFold(a, `\NonExistent`)
		}) {
			continue
		}

		stat := FolderStats{Name: mb.Name}
		st, err := c.Status(mb.Name, "UIDNEXT")
		if err != nil {
			if !c.Connected() {
				return stats, err
			}
			stat.Error = fmt.Errorf("folder %s: %w", mb.Name, err)
		} else {
			stat.Count = st.Int("MESSAGES")
			stat.Unseen = st.Int("UNSEEN")
			stat.UIDNext = st.Int("UIDNEXT")
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

// TotalMessageCount sums the message counts of FolderStats, ignoring
// mailboxes whose STATUS failed
func (c *Client) TotalMessageCount(excluded ...string) (int, error) {
	stats, err := c.FolderStats("", excluded...)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, s := range stats {
		total += s.Count
	}
	return total, nil
}
