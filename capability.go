package imap

import (
	"regexp"
	"slices"
	"strings"
)

// Capabilities is the server's capability list as advertised
type Capabilities []string

// Has reports whether name was advertised exactly (case-insensitive)
func (cs Capabilities) Has(name string) bool {
	for _, c := range cs {
		if strings.EqualFold(c, name) {
			return true
		}
	}
	return false
}

// Values returns the values of every NAME=value capability for name,
// e.g. Values("AUTH") gives ["PLAIN", "CRAM-MD5"]
func (cs Capabilities) Values(name string) []string {
	var out []string
	prefix := strings.ToUpper(name) + "="
	for _, c := range cs {
		if len(c) > len(prefix) && strings.EqualFold(c[:len(prefix)], prefix) {
			out = append(out, c[len(prefix):])
		}
	}
	return out
}

var capabilityCodeRE = regexp.MustCompile(`(?i)\[CAPABILITY ([^\]]+)\]`)

// parseCapabilityCode picks up an inline [CAPABILITY ...] response code
func (c *Client) parseCapabilityCode(line string) bool {
	m := capabilityCodeRE.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	c.setCapabilities(m[1])
	return true
}

// setCapabilities replaces the capability set from a space separated list,
// dropping configured disables
func (c *Client) setCapabilities(list string) {
	var caps Capabilities
	for _, cp := range strings.Fields(list) {
		if slices.ContainsFunc(c.cfg.DisabledCaps, func(d string) bool { return strings.EqualFold(d, cp) }) {
			continue
		}
		caps = append(caps, cp)
	}
	c.caps = caps
	c.capsRead = true
	if c.cfg.LiteralPlus == nil {
		c.literalPlus = caps.Has("LITERAL+")
	}
}

// Capabilities issues CAPABILITY and returns the fresh set
func (c *Client) Capabilities() (Capabilities, error) {
	resp, err := c.Execute("CAPABILITY", nil, 0)
	if err != nil {
		return nil, err
	}
	for _, l := range resp.Lines {
		if len(l) > 13 && strings.EqualFold(l[:13], "* CAPABILITY ") {
			c.setCapabilities(l[13:])
		}
	}
	return slices.Clone(c.caps), nil
}

func (c *Client) ensureCapabilities() {
	if !c.capsRead && c.Connected() {
		_, _ = c.Capabilities()
	}
}

// Capability reports whether the server advertises name, fetching the
// capability list once if no response carried it yet
func (c *Client) Capability(name string) bool {
	c.ensureCapabilities()
	return c.caps.Has(name)
}

// CapabilityValues returns the values of NAME=value capabilities, e.g.
// CapabilityValues("AUTH")
func (c *Client) CapabilityValues(name string) []string {
	c.ensureCapabilities()
	return c.caps.Values(name)
}

// ClearCapabilities forgets the capability set so the next query refetches it
func (c *Client) ClearCapabilities() {
	c.caps = nil
	c.capsRead = false
}

// LiteralPlus reports whether non-synchronizing literals are in use
func (c *Client) LiteralPlus() bool { return c.literalPlus }
