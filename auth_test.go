package imap

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestSelectAuthMechanism(t *testing.T) {
	tests := []struct {
		name string
		caps string
		want AuthMechanism
		ok   bool
	}{
		{"cram over login", "IMAP4rev1 AUTH=CRAM-MD5", AuthCramMD5, true},
		{"digest first", "IMAP4rev1 AUTH=PLAIN AUTH=DIGEST-MD5 AUTH=CRAM-MD5", AuthDigestMD5, true},
		{"plain", "IMAP4rev1 AUTH=PLAIN", AuthPlain, true},
		{"login fallback", "IMAP4rev1", AuthLogin, true},
		{"lowercase values", "IMAP4rev1 auth=cram-md5", AuthCramMD5, true},
		{"login disabled", "IMAP4rev1 LOGINDISABLED AUTH=PLAIN", AuthPlain, true},
		{"nothing usable", "IMAP4rev1 LOGINDISABLED AUTH=GSSAPI", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := selectAuthMechanism(Capabilities(strings.Fields(tt.caps)))
			if got != tt.want || ok != tt.ok {
				t.Errorf("got %q, %v; want %q, %v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestParseAuthMechanism(t *testing.T) {
	tests := []struct {
		in      string
		want    AuthMechanism
		wantErr bool
	}{
		{"", AuthAuto, false},
		{"check", AuthAuto, false},
		{"cram-md5", AuthCramMD5, false},
		{" PLAIN ", AuthPlain, false},
		{"xoauth2", AuthXOAuth2, false},
		{"KERBEROS_V4", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAuthMechanism(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseAuthMechanism(%q) = %q, %v", tt.in, got, err)
		}
	}
}

// RFC 2195 example
func TestCramMD5(t *testing.T) {
	c := newCramMD5Client("tim", "tanstaaftanstaaf")
	name, ir, err := c.Start()
	if name != "CRAM-MD5" || ir != nil || err != nil {
		t.Fatalf("Start = %q, %q, %v", name, ir, err)
	}
	resp, err := c.Next([]byte("<1896.697170952@postoffice.reston.mci.net>"))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(resp), "tim b913a602c7eda7a495b4e6e7334d3890"; got != want {
		t.Errorf("response = %q, want %q", got, want)
	}
}

// RFC 2831 example exchange
func TestDigestMD5(t *testing.T) {
	newClient := func() *digestMD5Client {
		c := newDigestMD5Client("chris", "secret", "", "elwood.innosoft.com")
		c.cnonce = func() (string, error) { return "OA6MHXh6VqTrRk", nil }
		return c
	}
	challenge := `realm="elwood.innosoft.com",nonce="OA6MG9tEQGm2hh",qop="auth",algorithm=md5-sess,charset=utf-8`

	t.Run("exchange", func(t *testing.T) {
		c := newClient()
		resp, err := c.Next([]byte(challenge))
		if err != nil {
			t.Fatal(err)
		}
		for _, part := range []string{
			`charset=utf-8`,
			`username="chris"`,
			`realm="elwood.innosoft.com"`,
			`nonce="OA6MG9tEQGm2hh"`,
			`nc=00000001`,
			`cnonce="OA6MHXh6VqTrRk"`,
			`digest-uri="imap/elwood.innosoft.com"`,
			`response=d388dad90d4bbd760a152321f2143af7`,
			`qop=auth`,
		} {
			if !strings.Contains(string(resp), part) {
				t.Errorf("response %q lacks %s", resp, part)
			}
		}

		final, err := c.Next([]byte("rspauth=ea40f60335c427b5527b84dbabcdfffd"))
		if err != nil {
			t.Fatalf("rspauth: %v", err)
		}
		if len(final) != 0 {
			t.Errorf("final response = %q, want empty", final)
		}
	})

	t.Run("rspauth mismatch", func(t *testing.T) {
		c := newClient()
		if _, err := c.Next([]byte(challenge)); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Next([]byte("rspauth=00000000000000000000000000000000")); err == nil {
			t.Error("expected mismatch error")
		}
	})

	t.Run("missing rspauth", func(t *testing.T) {
		c := newClient()
		if _, err := c.Next([]byte(challenge)); err != nil {
			t.Fatal(err)
		}
		if _, err := c.Next([]byte(`nonce="x"`)); err == nil {
			t.Error("expected error without rspauth")
		}
	})

	t.Run("no nonce", func(t *testing.T) {
		if _, err := newClient().Next([]byte(`realm="x",qop="auth"`)); err == nil {
			t.Error("expected error without nonce")
		}
	})

	t.Run("qop without auth", func(t *testing.T) {
		if _, err := newClient().Next([]byte(`nonce="abc",qop="auth-conf"`)); err == nil {
			t.Error("expected error for unsupported qop")
		}
	})
}

func TestParseDigestChallenge(t *testing.T) {
	got := parseDigestChallenge(`realm="a\"b", nonce=xyz,qop="auth,auth-int",realm="second"`)
	want := map[string]string{"realm": `a"b`, "nonce": "xyz", "qop": "auth,auth-int"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}
}

// authHandler scripts one AUTHENTICATE exchange: each challenge is sent
// as a continuation and the client's answer is compared to the expected
// base64 line
func authHandler(t *testing.T, wantArgs string, steps [][2]string, final string) mockHandler {
	return func(c *mockConn, tag, args string) {
		if args != wantArgs {
			t.Errorf("AUTHENTICATE args = %q, want %q", args, wantArgs)
		}
		for _, step := range steps {
			c.writef("+ %s\r\n", step[0])
			line, err := c.readLine()
			if err != nil {
				return
			}
			if line != step[1] {
				t.Errorf("client answered %q, want %q", line, step[1])
			}
		}
		c.writef("%s %s\r\n", tag, final)
	}
}

func TestAuthenticatePlainInitialResponse(t *testing.T) {
	server := newMockIMAPServer(t, false)
	server.caps = "IMAP4rev1 AUTH=PLAIN SASL-IR"
	server.handle("AUTHENTICATE", authHandler(t, "PLAIN AHRlc3R1c2VyAHRlc3RwYXNz", nil,
		"OK [CAPABILITY IMAP4rev1 AUTH=PLAIN SASL-IR MOVE] done"))

	cfg := server.config()
	cfg.AuthType = AuthPlain
	c, err := Dial(cfg, "testuser", "testpass")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if c.State() != StateAuthenticated {
		t.Errorf("state = %v", c.State())
	}
	if !c.Capability("MOVE") {
		t.Error("capabilities not refreshed from the tagged response")
	}
}

func TestAuthenticatePlainContinuation(t *testing.T) {
	server := newMockIMAPServer(t, false)
	server.caps = "IMAP4rev1 AUTH=PLAIN"
	server.handle("AUTHENTICATE", authHandler(t, "PLAIN",
		[][2]string{{"", "AHRlc3R1c2VyAHRlc3RwYXNz"}}, "OK done"))

	cfg := server.config()
	cfg.AuthType = AuthPlain
	c, err := Dial(cfg, "testuser", "testpass")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
}

func TestAuthenticateProxyIdentity(t *testing.T) {
	server := newMockIMAPServer(t, false)
	server.caps = "IMAP4rev1 AUTH=PLAIN SASL-IR"
	// authzid "bob", authcid "admin", password "adminpass"
	ir := base64.StdEncoding.EncodeToString([]byte("bob\x00admin\x00adminpass"))
	server.handle("AUTHENTICATE", authHandler(t, "PLAIN "+ir, nil, "OK done"))

	cfg := server.config()
	cfg.AuthType = AuthPlain
	cfg.AuthCID = "admin"
	cfg.AuthPassword = "adminpass"
	c, err := Dial(cfg, "bob", "ignored")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
}

func TestAuthenticateAutoCramMD5(t *testing.T) {
	server := newMockIMAPServer(t, false)
	server.caps = "IMAP4rev1 AUTH=CRAM-MD5"
	answer := base64.StdEncoding.EncodeToString([]byte("tim b913a602c7eda7a495b4e6e7334d3890"))
	server.handle("AUTHENTICATE", authHandler(t, "CRAM-MD5",
		[][2]string{{"PDE4OTYuNjk3MTcwOTUyQHBvc3RvZmZpY2UucmVzdG9uLm1jaS5uZXQ+", answer}}, "OK done"))

	c, err := Dial(server.config(), "tim", "tanstaaftanstaaf")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if got := server.findCommand("LOGIN"); got != "" {
		t.Errorf("LOGIN used instead of CRAM-MD5: %q", got)
	}
}

func TestAuthenticateCancelOnBadChallenge(t *testing.T) {
	server := newMockIMAPServer(t, false)
	server.caps = "IMAP4rev1 AUTH=DIGEST-MD5"
	server.handle("AUTHENTICATE", authHandler(t, "DIGEST-MD5",
		[][2]string{{"!!not base64!!", "*"}}, "BAD exchange cancelled"))

	cfg := server.config()
	cfg.AuthType = AuthDigestMD5
	_, err := Dial(cfg, "chris", "secret")
	if StatusOf(err) != StatusBad {
		t.Fatalf("status = %v (%v), want BAD", StatusOf(err), err)
	}
}

func TestAuthenticateXOAuth2Failure(t *testing.T) {
	server := newMockIMAPServer(t, false)
	server.caps = "IMAP4rev1 AUTH=XOAUTH2"
	ir := base64.StdEncoding.EncodeToString([]byte("user=someone@example.com\x01auth=Bearer tok\x01\x01"))
	server.handle("AUTHENTICATE", authHandler(t, "XOAUTH2 "+ir,
		[][2]string{{"eyJzdGF0dXMiOiI0MDEifQ==", ""}}, "NO [AUTHENTICATIONFAILED] invalid token"))

	cfg := server.config()
	cfg.AuthType = AuthXOAuth2
	_, err := Dial(cfg, "someone@example.com", "tok")
	var ie *Error
	if !errors.As(err, &ie) || ie.Status != StatusNo || ie.Code != "AUTHENTICATIONFAILED" {
		t.Fatalf("err = %v, want NO [AUTHENTICATIONFAILED]", err)
	}
}

type fakeGSSAPI struct{ target string }

func (f *fakeGSSAPI) InitSecContext(target string) ([]byte, error) {
	f.target = target
	return []byte("token"), nil
}

func (f *fakeGSSAPI) Unwrap(token []byte) ([]byte, error) { return token, nil }

func (f *fakeGSSAPI) Wrap(payload []byte) ([]byte, error) {
	return append([]byte("wrapped:"), payload...), nil
}

func TestAuthenticateGSSAPI(t *testing.T) {
	server := newMockIMAPServer(t, false)
	server.caps = "IMAP4rev1 AUTH=GSSAPI"
	server.handle("AUTHENTICATE", authHandler(t, "GSSAPI dG9rZW4=",
		[][2]string{{"Y2hhbGxlbmdl", "d3JhcHBlZDpjaGFsbGVuZ2U="}}, "OK done"))

	ctx := &fakeGSSAPI{}
	cfg := server.config()
	cfg.AuthType = AuthGSSAPI
	cfg.GSSAPI = ctx
	c, err := Dial(cfg, "user", "")
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()
	if ctx.target != "imap@"+server.GetHost() {
		t.Errorf("target = %q", ctx.target)
	}
}

func TestAuthenticateGSSAPIWithoutContext(t *testing.T) {
	server := newMockIMAPServer(t, false)
	cfg := server.config()
	cfg.AuthType = AuthGSSAPI
	if _, err := Dial(cfg, "user", ""); StatusOf(err) != StatusBad {
		t.Errorf("err = %v, want BAD", err)
	}
}

func TestLoginDisabled(t *testing.T) {
	server := newMockIMAPServer(t, false)
	server.caps = "IMAP4rev1 LOGINDISABLED"
	cfg := server.config()
	cfg.AuthType = AuthLogin
	_, err := Dial(cfg, "testuser", "testpass")
	if StatusOf(err) != StatusBad {
		t.Fatalf("err = %v, want BAD", err)
	}
	if got := server.findCommand("LOGIN"); got != "" {
		t.Errorf("LOGIN sent despite LOGINDISABLED: %q", got)
	}
}

func TestAuthenticateWithUnadvertised(t *testing.T) {
	server := newMockIMAPServer(t, false)
	server.greeting = "* PREAUTH [CAPABILITY IMAP4rev1 AUTH=PLAIN] hi"
	c := server.dial(t)

	err := c.AuthenticateWith("SCRAM-SHA-1", newCramMD5Client("a", "b"))
	if StatusOf(err) != StatusNo {
		t.Errorf("err = %v, want NO", err)
	}
}
