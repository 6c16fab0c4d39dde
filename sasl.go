package imap

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/emersion/go-sasl"
	"github.com/sqs/go-xoauth2"
)

// GSSAPIContext is the Kerberos side of a GSSAPI exchange. Implementations
// wrap a GSS-API library; none ships with this package.
type GSSAPIContext interface {
	// InitSecContext produces the initial context token for target,
	// a service principal such as "imap@mail.example.com"
	InitSecContext(target string) ([]byte, error)
	// Unwrap verifies and decodes a token from the server
	Unwrap(token []byte) ([]byte, error)
	// Wrap protects a payload for the server
	Wrap(payload []byte) ([]byte, error)
}

// cramMD5Client implements RFC 2195
type cramMD5Client struct {
	username, secret string
}

func newCramMD5Client(username, secret string) sasl.Client {
	return &cramMD5Client{username: username, secret: secret}
}

func (a *cramMD5Client) Start() (string, []byte, error) {
	return string(AuthCramMD5), nil, nil
}

func (a *cramMD5Client) Next(challenge []byte) ([]byte, error) {
	mac := hmac.New(md5.New, []byte(a.secret))
	mac.Write(challenge)
	return []byte(a.username + " " + hex.EncodeToString(mac.Sum(nil))), nil
}

// digestMD5Client implements the client side of RFC 2831 with qop=auth
type digestMD5Client struct {
	username, secret, authzid string
	service, host             string
	cnonce                    func() (string, error)

	step    int
	rspauth string
}

func newDigestMD5Client(username, secret, authzid, host string) *digestMD5Client {
	return &digestMD5Client{
		username: username,
		secret:   secret,
		authzid:  authzid,
		service:  "imap",
		host:     host,
		cnonce:   randomCnonce,
	}
}

func randomCnonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}

func (a *digestMD5Client) Start() (string, []byte, error) {
	return string(AuthDigestMD5), nil, nil
}

func (a *digestMD5Client) Next(challenge []byte) ([]byte, error) {
	a.step++
	switch a.step {
	case 1:
		return a.respond(parseDigestChallenge(string(challenge)))
	case 2:
		params := parseDigestChallenge(string(challenge))
		rsp, ok := params["rspauth"]
		if !ok {
			return nil, errors.New("digest-md5: server did not confirm with rspauth")
		}
		if rsp != a.rspauth {
			return nil, errors.New("digest-md5: rspauth mismatch")
		}
		return []byte{}, nil
	}
	return nil, errors.New("digest-md5: unexpected server challenge")
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (a *digestMD5Client) respond(params map[string]string) ([]byte, error) {
	nonce := params["nonce"]
	if nonce == "" {
		return nil, errors.New("digest-md5: challenge without nonce")
	}
	if alg := params["algorithm"]; alg != "" && !strings.EqualFold(alg, "md5-sess") {
		return nil, fmt.Errorf("digest-md5: unsupported algorithm %q", alg)
	}
	if qop, ok := params["qop"]; ok {
		supported := false
		for _, q := range strings.Split(qop, ",") {
			if strings.TrimSpace(q) == "auth" {
				supported = true
			}
		}
		if !supported {
			return nil, fmt.Errorf("digest-md5: server offers no qop=auth (%s)", qop)
		}
	}
	realm, ok := params["realm"]
	if !ok {
		realm = a.host
	}
	cnonce, err := a.cnonce()
	if err != nil {
		return nil, err
	}

	const nc, qop = "00000001", "auth"
	uri := a.service + "/" + a.host
	secret := md5.Sum([]byte(a.username + ":" + realm + ":" + a.secret))
	a1 := string(secret[:]) + ":" + nonce + ":" + cnonce
	if a.authzid != "" {
		a1 += ":" + a.authzid
	}
	ha1 := md5Hex(a1)
	kd := func(a2 string) string {
		return md5Hex(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + md5Hex(a2))
	}
	a.rspauth = kd(":" + uri)

	var sb strings.Builder
	if strings.EqualFold(params["charset"], "utf-8") {
		sb.WriteString("charset=utf-8,")
	}
	fmt.Fprintf(&sb, `username=%s,realm=%s,nonce=%s,nc=%s,cnonce=%s,digest-uri=%s,response=%s,qop=%s`,
		quote(a.username), quote(realm), quote(nonce), nc, quote(cnonce), quote(uri), kd("AUTHENTICATE:"+uri), qop)
	if a.authzid != "" {
		sb.WriteString(",authzid=" + quote(a.authzid))
	}
	return []byte(sb.String()), nil
}

// parseDigestChallenge splits key=value pairs where values may be quoted.
// The first occurrence of a repeated key wins.
func parseDigestChallenge(s string) map[string]string {
	params := make(map[string]string)
	for s != "" {
		s = strings.TrimLeft(s, " \t,")
		eq := strings.IndexByte(s, '=')
		if eq < 0 {
			break
		}
		key := strings.ToLower(strings.TrimSpace(s[:eq]))
		s = s[eq+1:]

		var value string
		if strings.HasPrefix(s, `"`) {
			var sb strings.Builder
			i := 1
			for ; i < len(s) && s[i] != '"'; i++ {
				if s[i] == '\\' && i+1 < len(s) {
					i++
				}
				sb.WriteByte(s[i])
			}
			value = sb.String()
			s = s[min(i+1, len(s)):]
		} else {
			end := strings.IndexByte(s, ',')
			if end < 0 {
				end = len(s)
			}
			value = strings.TrimSpace(s[:end])
			s = s[end:]
		}
		if _, seen := params[key]; !seen {
			params[key] = value
		}
	}
	return params
}

// gssapiClient runs the single wrap/unwrap round of the GSSAPI exchange
type gssapiClient struct {
	ctx    GSSAPIContext
	target string
}

func (a *gssapiClient) Start() (string, []byte, error) {
	token, err := a.ctx.InitSecContext(a.target)
	if err != nil {
		return string(AuthGSSAPI), nil, fmt.Errorf("gssapi: init security context: %w", err)
	}
	return string(AuthGSSAPI), token, nil
}

func (a *gssapiClient) Next(challenge []byte) ([]byte, error) {
	payload, err := a.ctx.Unwrap(challenge)
	if err != nil {
		return nil, fmt.Errorf("gssapi: unwrap: %w", err)
	}
	out, err := a.ctx.Wrap(payload)
	if err != nil {
		return nil, fmt.Errorf("gssapi: wrap: %w", err)
	}
	return out, nil
}

// xoauth2Client sends the XOAUTH2 initial response. A challenge after it
// carries the server's error details and is answered with an empty line.
type xoauth2Client struct {
	username, token string
	answered        bool
}

func (a *xoauth2Client) Start() (string, []byte, error) {
	ir, err := base64.StdEncoding.DecodeString(xoauth2.XOAuth2String(a.username, a.token))
	if err != nil {
		return string(AuthXOAuth2), nil, err
	}
	return string(AuthXOAuth2), ir, nil
}

func (a *xoauth2Client) Next(challenge []byte) ([]byte, error) {
	if a.answered {
		return nil, errors.New("xoauth2: unexpected server challenge")
	}
	a.answered = true
	return []byte{}, nil
}
