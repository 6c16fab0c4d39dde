package imap

import (
	"errors"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds everything a Client needs to connect and authenticate.
// The zero value is not usable; start from DefaultConfig or LoadConfig.
type Config struct {
	Host string
	Port int
	// TLS dials with implicit TLS (port 993 style). Plain TCP otherwise.
	TLS bool
	// TLSSkipVerify disables certificate verification. Use with caution;
	// skipping verification exposes the connection to man-in-the-middle
	// attacks.
	TLSSkipVerify bool

	// DialTimeout defines how long to wait when establishing a new
	// connection. Zero means no timeout.
	DialTimeout time.Duration
	// Timeout bounds every single read or write on the socket. A read that
	// exceeds it is treated as connection loss. Zero means no timeout.
	Timeout time.Duration
	// ConnectAttempts is how many times dialing and reading the greeting
	// is attempted before giving up. Authentication is never retried.
	ConnectAttempts int
	// MaxLiteralSize caps the size of a literal the server may announce.
	// Zero means DefaultMaxLiteralSize.
	MaxLiteralSize int

	// AuthType selects the authentication mechanism, AuthAuto picks the
	// best one the server advertises
	AuthType AuthMechanism
	// AuthCID and AuthPassword, when set, authenticate as AuthCID and
	// authorize as the user passed to Connect (proxy authorization)
	AuthCID      string
	AuthPassword string
	// GSSAPI supplies the Kerberos security context for AuthGSSAPI
	GSSAPI GSSAPIContext
	// GSSAPITarget is the service principal, "imap@<host>" by default
	GSSAPITarget string

	// DisabledCaps are capabilities to ignore even when advertised
	DisabledCaps []string
	// ForceCaps drops the capability set after login so it is refetched
	ForceCaps bool
	// LiteralPlus forces non-synchronizing literals on or off. Nil follows
	// the LITERAL+ capability.
	LiteralPlus *bool

	// Ident is sent with the ID command after connecting, when the server
	// supports it
	Ident map[string]string

	// Namespace overrides. When any prefix list is set the NAMESPACE
	// command is not issued.
	NamespacePersonal []string
	NamespaceOther    []string
	NamespaceShared   []string
	// Delimiter overrides the hierarchy delimiter reported by the server
	Delimiter string

	// Verbose outputs every command and its response with the IMAP server
	Verbose bool
	// SkipResponses skips logging server responses in verbose mode
	SkipResponses bool
	// Logger receives the client's log output. Nil uses a slog text logger
	// on stderr.
	Logger Logger
}

// DefaultMaxLiteralSize is the largest literal accepted when
// Config.MaxLiteralSize is unset
const DefaultMaxLiteralSize = 64 << 20

// DefaultConfig returns the configuration used for keys a caller leaves
// unset
func DefaultConfig() Config {
	return Config{
		Host:            "localhost",
		Port:            143,
		DialTimeout:     10 * time.Second,
		Timeout:         5 * time.Second,
		ConnectAttempts: 3,
		AuthType:        AuthAuto,
	}
}

type fileConfig struct {
	Host              string            `toml:"host"`
	Port              int               `toml:"port"`
	TLS               bool              `toml:"tls"`
	TLSSkipVerify     bool              `toml:"tls_skip_verify"`
	DialTimeout       string            `toml:"dial_timeout"`
	Timeout           string            `toml:"timeout"`
	ConnectAttempts   int               `toml:"connect_attempts"`
	MaxLiteralSize    int               `toml:"max_literal_size"`
	AuthType          string            `toml:"auth_type"`
	AuthCID           string            `toml:"auth_cid"`
	AuthPassword      string            `toml:"auth_password"`
	GSSAPITarget      string            `toml:"gssapi_target"`
	DisabledCaps      []string          `toml:"disabled_caps"`
	ForceCaps         bool              `toml:"force_caps"`
	LiteralPlus       *bool             `toml:"literal_plus"`
	Ident             map[string]string `toml:"ident"`
	NamespacePersonal []string          `toml:"ns_personal"`
	NamespaceOther    []string          `toml:"ns_other"`
	NamespaceShared   []string          `toml:"ns_shared"`
	Delimiter         string            `toml:"delimiter"`
	Verbose           bool              `toml:"verbose"`
	SkipResponses     bool              `toml:"skip_responses"`
}

// LoadConfig reads a TOML configuration file. Keys missing from the file
// keep their DefaultConfig values.
func LoadConfig(path string) (Config, error) {
	def := DefaultConfig()
	fc := fileConfig{
		Host:            def.Host,
		Port:            def.Port,
		DialTimeout:     def.DialTimeout.String(),
		Timeout:         def.Timeout.String(),
		ConnectAttempts: def.ConnectAttempts,
		AuthType:        string(def.AuthType),
	}
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return Config{}, fmt.Errorf("imap config %s: %w", path, err)
	}

	cfg := Config{
		Host:              fc.Host,
		Port:              fc.Port,
		TLS:               fc.TLS,
		TLSSkipVerify:     fc.TLSSkipVerify,
		ConnectAttempts:   fc.ConnectAttempts,
		MaxLiteralSize:    fc.MaxLiteralSize,
		AuthCID:           fc.AuthCID,
		AuthPassword:      fc.AuthPassword,
		GSSAPITarget:      fc.GSSAPITarget,
		DisabledCaps:      fc.DisabledCaps,
		ForceCaps:         fc.ForceCaps,
		LiteralPlus:       fc.LiteralPlus,
		Ident:             fc.Ident,
		NamespacePersonal: fc.NamespacePersonal,
		NamespaceOther:    fc.NamespaceOther,
		NamespaceShared:   fc.NamespaceShared,
		Delimiter:         fc.Delimiter,
		Verbose:           fc.Verbose,
		SkipResponses:     fc.SkipResponses,
	}

	var err error
	if cfg.AuthType, err = ParseAuthMechanism(fc.AuthType); err != nil {
		return Config{}, fmt.Errorf("imap config auth_type: %w", err)
	}
	if cfg.DialTimeout, err = time.ParseDuration(fc.DialTimeout); err != nil {
		return Config{}, fmt.Errorf("imap config dial_timeout: %w", err)
	}
	if cfg.Timeout, err = time.ParseDuration(fc.Timeout); err != nil {
		return Config{}, fmt.Errorf("imap config timeout: %w", err)
	}
	if err = cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that the configuration can be used to connect
func (cfg Config) Validate() error {
	if cfg.Host == "" {
		return errors.New("imap config: host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("imap config: invalid port %d", cfg.Port)
	}
	if cfg.DialTimeout < 0 || cfg.Timeout < 0 {
		return errors.New("imap config: timeouts must not be negative")
	}
	if cfg.MaxLiteralSize < 0 {
		return errors.New("imap config: max_literal_size must not be negative")
	}
	if !cfg.AuthType.valid() {
		return fmt.Errorf("imap config: unknown auth type %q", cfg.AuthType)
	}
	return nil
}

func (cfg Config) attempts() int {
	if cfg.ConnectAttempts < 1 {
		return 1
	}
	return cfg.ConnectAttempts
}

func (cfg Config) maxLiteral() int {
	if cfg.MaxLiteralSize <= 0 {
		return DefaultMaxLiteralSize
	}
	return cfg.MaxLiteralSize
}

func (cfg Config) gssapiTarget() string {
	if cfg.GSSAPITarget != "" {
		return cfg.GSSAPITarget
	}
	return "imap@" + cfg.Host
}
