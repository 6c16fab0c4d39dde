//go:build integration

package imap

import (
	"fmt"
	"net"
	"net/smtp"
	"os"
	"strings"
	"testing"
	"time"
)

// Integration tests require a running GreenMail server:
//
//	docker run -d -p 3025:3025 -p 3143:3143 -p 3993:3993 greenmail/standalone
//
// Run tests with: go test -tags=integration -v ./...

const (
	testIMAPHost  = "localhost"
	testIMAPPort  = 3143
	testIMAPSPort = 3993
	testSMTPPort  = 3025
	testUser      = "testuser@localhost"
	testPass      = "testpass"
)

func testHost() string {
	if h := os.Getenv("IMAP_TEST_HOST"); h != "" {
		return h
	}
	return testIMAPHost
}

func waitForServer(host string, port int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", host, port), time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		time.Sleep(500 * time.Millisecond)
	}
	return fmt.Errorf("server %s:%d not ready after %v", host, port, timeout)
}

func sendTestEmail(host string, port int, from, to, subject, body string) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n\r\n%s", from, to, subject, body)
	return smtp.SendMail(addr, nil, from, []string{to}, []byte(msg))
}

func integrationConfig(t *testing.T, tls bool) Config {
	t.Helper()
	host := testHost()
	port := testIMAPPort
	if tls {
		port = testIMAPSPort
	}
	if err := waitForServer(host, port, 30*time.Second); err != nil {
		t.Skipf("IMAP server not available: %v", err)
	}

	cfg := DefaultConfig()
	cfg.Host = host
	cfg.Port = port
	cfg.TLS = tls
	// GreenMail ships a self-signed certificate
	cfg.TLSSkipVerify = true
	cfg.ConnectAttempts = 3
	return cfg
}

// setupTestConnection logs in over IMAPS; GreenMail creates users on their
// first login
func setupTestConnection(t *testing.T) *Client {
	t.Helper()
	c, err := Dial(integrationConfig(t, true), testUser, testPass)
	if err != nil {
		t.Skipf("Could not connect to IMAP server: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func deliver(t *testing.T, subjects ...string) {
	t.Helper()
	host := testHost()
	if err := waitForServer(host, testSMTPPort, 30*time.Second); err != nil {
		t.Skipf("SMTP server not available: %v", err)
	}
	for _, s := range subjects {
		if err := sendTestEmail(host, testSMTPPort, "sender@localhost", testUser, s, "Body of "+s); err != nil {
			t.Fatalf("send %q: %v", s, err)
		}
	}
	// delivery is asynchronous
	time.Sleep(time.Second)
}

func TestIntegration_Connection(t *testing.T) {
	for _, tls := range []bool{false, true} {
		t.Run(fmt.Sprintf("tls=%v", tls), func(t *testing.T) {
			c, err := Dial(integrationConfig(t, tls), testUser, testPass)
			if err != nil {
				t.Fatalf("Dial: %v", err)
			}
			if c.State() != StateAuthenticated {
				t.Errorf("state = %v", c.State())
			}
			if !c.Capability("IMAP4rev1") {
				t.Errorf("IMAP4rev1 not advertised")
			}
			if err := c.Close(); err != nil {
				t.Errorf("Close: %v", err)
			}
			if c.Connected() {
				t.Error("still connected after Close")
			}
		})
	}
}

func TestIntegration_SearchAndFetch(t *testing.T) {
	c := setupTestConnection(t)
	tag := fmt.Sprintf("it-%d", time.Now().UnixNano())
	deliver(t, tag+" one", tag+" two", tag+" three")

	res, err := c.Search("INBOX", `SUBJECT "`+tag+`"`, true)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if res.Count() != 3 {
		t.Fatalf("found %d messages, want 3", res.Count())
	}

	headers, err := c.FetchHeaders("INBOX", CompressMessageSet(res.IDs()), true, false)
	if err != nil {
		t.Fatalf("FetchHeaders: %v", err)
	}
	if len(headers) != 3 {
		t.Fatalf("fetched %d headers", len(headers))
	}
	for _, h := range headers {
		if !strings.HasPrefix(h.Subject, tag) || !res.Contains(h.UID) {
			t.Errorf("unexpected header %+v", h)
		}
	}

	msg, err := c.FetchMessage("INBOX", res.Max())
	if err != nil {
		t.Fatalf("FetchMessage: %v", err)
	}
	if !strings.Contains(msg.Text, "Body of "+tag) {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestIntegration_FlagsAndMove(t *testing.T) {
	c := setupTestConnection(t)
	tag := fmt.Sprintf("mv-%d", time.Now().UnixNano())
	deliver(t, tag)

	res, err := c.Search("INBOX", `SUBJECT "`+tag+`"`, true)
	if err != nil || res.Count() != 1 {
		t.Fatalf("Search: %v %v", res, err)
	}
	set := res.String()

	if err := c.SetFlags("INBOX", set, true, Flags{Flagged: FlagAdd}); err != nil {
		t.Fatalf("SetFlags: %v", err)
	}
	flagged, err := c.Search("INBOX", `FLAGGED SUBJECT "`+tag+`"`, true)
	if err != nil || flagged.Count() != 1 {
		t.Errorf("flagged search: %v %v", flagged, err)
	}

	folder := "Archive-" + tag
	if _, err := c.Execute("CREATE", []any{folder}, 0); err != nil {
		t.Fatalf("CREATE: %v", err)
	}
	if _, err := c.Move(set, "INBOX", folder); err != nil {
		t.Fatalf("Move: %v", err)
	}
	st, err := c.Status(folder)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Int("MESSAGES") != 1 {
		t.Errorf("status = %v", st)
	}

	boxes, err := c.List("", "*", nil)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	found := false
	for _, mb := range boxes {
		found = found || mb.Name == folder
	}
	if !found {
		t.Errorf("%s missing from %v", folder, boxes)
	}
}
