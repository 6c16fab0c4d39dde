package imap

import (
	"bufio"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// mockConn is the server side of one client connection
type mockConn struct {
	conn net.Conn
	r    *bufio.Reader
	w    *bufio.Writer
}

func (c *mockConn) writef(format string, args ...any) {
	fmt.Fprintf(c.w, format, args...)
	c.w.Flush()
}

func (c *mockConn) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	return strings.TrimRight(line, "\r\n"), err
}

// mockHandler answers one command. args is everything after the command
// verb with literals inlined.
type mockHandler func(c *mockConn, tag, args string)

// mockIMAPServer is a scripted IMAP server for tests
type mockIMAPServer struct {
	listener  net.Listener
	address   string
	validUser string
	validPass string

	// greeting is sent on connect, "* OK" with the capabilities by default
	greeting string
	caps     string
	// rejectLiteral answers literal announcements with NO instead of "+"
	rejectLiteral bool

	mu       sync.Mutex
	handlers map[string]mockHandler
	received []string

	accepts      int32
	authAttempts int32
	prompts      int32
}

var mockLiteralRE = regexp.MustCompile(`\{(\d+)(\+?)\}$`)

func newMockIMAPServer(t *testing.T, useTLS bool) *mockIMAPServer {
	t.Helper()
	var (
		listener net.Listener
		err      error
	)
	if useTLS {
		cert, cerr := generateSelfSignedCertificate()
		if cerr != nil {
			t.Fatalf("failed to generate certificate: %v", cerr)
		}
		listener, err = tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	} else {
		listener, err = net.Listen("tcp", "127.0.0.1:0")
	}
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}

	s := &mockIMAPServer{
		listener:  listener,
		address:   listener.Addr().String(),
		validUser: "testuser",
		validPass: "testpass",
		caps:      "IMAP4rev1",
		handlers:  make(map[string]mockHandler),
	}
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// handle installs h for a verb such as "SELECT" or "UID FETCH"
func (s *mockIMAPServer) handle(verb string, h mockHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[verb] = h
}

// reply installs a handler that writes untagged lines and a tagged OK
func (s *mockIMAPServer) reply(verb string, untagged ...string) {
	s.handle(verb, func(c *mockConn, tag, _ string) {
		for _, u := range untagged {
			c.writef("%s\r\n", u)
		}
		c.writef("%s OK %s completed\r\n", tag, verb)
	})
}

func (s *mockIMAPServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		atomic.AddInt32(&s.accepts, 1)
		go s.handleConnection(conn)
	}
}

// readCommand reads one command line with its literals
func (s *mockIMAPServer) readCommand(c *mockConn) (string, error) {
	var sb strings.Builder
	for {
		line, err := c.readLine()
		if err != nil {
			return "", err
		}
		sb.WriteString(line)
		m := mockLiteralRE.FindStringSubmatch(line)
		if m == nil {
			return sb.String(), nil
		}
		n, _ := strconv.Atoi(m[1])
		if m[2] == "" {
			if s.rejectLiteral {
				return sb.String(), errLiteralRejected
			}
			atomic.AddInt32(&s.prompts, 1)
			c.writef("+ go ahead\r\n")
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(c.r, buf); err != nil {
			return "", err
		}
		sb.WriteString("\r\n")
		sb.Write(buf)
	}
}

var errLiteralRejected = fmt.Errorf("literal rejected")

func (s *mockIMAPServer) handleConnection(conn net.Conn) {
	defer conn.Close()
	c := &mockConn{conn: conn, r: bufio.NewReader(conn), w: bufio.NewWriter(conn)}

	greeting := s.greeting
	if greeting == "" {
		greeting = "* OK [CAPABILITY " + s.caps + "] IMAP4rev1 Mock Server Ready"
	}
	c.writef("%s\r\n", greeting)

	for {
		line, err := s.readCommand(c)
		rejected := err == errLiteralRejected
		if err != nil && !rejected {
			return
		}

		s.mu.Lock()
		s.received = append(s.received, line)
		s.mu.Unlock()

		tag, rest, _ := strings.Cut(line, " ")
		if rejected {
			c.writef("%s NO [TOOBIG] literal too big\r\n", tag)
			continue
		}
		verb, args, _ := strings.Cut(rest, " ")
		verb = strings.ToUpper(verb)
		if verb == "UID" {
			var sub string
			sub, args, _ = strings.Cut(args, " ")
			verb += " " + strings.ToUpper(sub)
		}

		s.mu.Lock()
		h := s.handlers[verb]
		s.mu.Unlock()
		if h != nil {
			h(c, tag, args)
			continue
		}

		switch verb {
		case "LOGIN":
			atomic.AddInt32(&s.authAttempts, 1)
			a := args
			tks := Tokenize(&a, 2)
			if len(tks) == 2 && tks[0].Value() == s.validUser && tks[1].Value() == s.validPass {
				c.writef("%s OK [CAPABILITY %s] LOGIN completed\r\n", tag, s.caps)
			} else {
				c.writef("%s NO [AUTHENTICATIONFAILED] Authentication failed\r\n", tag)
			}
		case "CAPABILITY":
			c.writef("* CAPABILITY %s\r\n", s.caps)
			c.writef("%s OK CAPABILITY completed\r\n", tag)
		case "SELECT", "EXAMINE":
			c.writef("* FLAGS (\\Answered \\Flagged \\Deleted \\Seen \\Draft)\r\n")
			c.writef("* 3 EXISTS\r\n* 0 RECENT\r\n")
			c.writef("* OK [UIDVALIDITY 1] UIDs valid\r\n* OK [UIDNEXT 4] Predicted next UID\r\n")
			if verb == "EXAMINE" {
				c.writef("%s OK [READ-ONLY] EXAMINE completed\r\n", tag)
			} else {
				c.writef("%s OK [READ-WRITE] SELECT completed\r\n", tag)
			}
		case "LOGOUT":
			c.writef("* BYE IMAP4rev1 Server logging out\r\n")
			c.writef("%s OK LOGOUT completed\r\n", tag)
			return
		case "NOOP":
			c.writef("%s OK NOOP completed\r\n", tag)
		default:
			c.writef("%s BAD unknown command %s\r\n", tag, verb)
		}
	}
}

// commands returns the received command lines, tags included
func (s *mockIMAPServer) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.received...)
}

// lastCommand returns the most recent command line without its tag
func (s *mockIMAPServer) lastCommand() string {
	cmds := s.commands()
	if len(cmds) == 0 {
		return ""
	}
	_, rest, _ := strings.Cut(cmds[len(cmds)-1], " ")
	return rest
}

// findCommand returns the first command whose verb part starts with prefix
func (s *mockIMAPServer) findCommand(prefix string) string {
	for _, c := range s.commands() {
		if _, rest, _ := strings.Cut(c, " "); strings.HasPrefix(rest, prefix) {
			return rest
		}
	}
	return ""
}

func (s *mockIMAPServer) Close() {
	s.listener.Close()
}

func (s *mockIMAPServer) GetHost() string {
	host, _, _ := net.SplitHostPort(s.address)
	return host
}

func (s *mockIMAPServer) GetPort() int {
	_, portStr, _ := net.SplitHostPort(s.address)
	port, _ := strconv.Atoi(portStr)
	return port
}

func discardLogger() Logger {
	return SlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// config returns a client configuration pointing at the server
func (s *mockIMAPServer) config() Config {
	cfg := DefaultConfig()
	cfg.Host = s.GetHost()
	cfg.Port = s.GetPort()
	cfg.TLSSkipVerify = true
	cfg.ConnectAttempts = 1
	cfg.Timeout = 2 * time.Second
	cfg.DialTimeout = 2 * time.Second
	cfg.Logger = discardLogger()
	return cfg
}

// dial connects and logs in with the valid credentials
func (s *mockIMAPServer) dial(t *testing.T) *Client {
	t.Helper()
	c, err := Dial(s.config(), s.validUser, s.validPass)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// generateSelfSignedCertificate generates a self-signed certificate for testing
func generateSelfSignedCertificate() (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test Co"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		return tls.Certificate{}, err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(priv)})

	return tls.X509KeyPair(certPEM, keyPEM)
}
