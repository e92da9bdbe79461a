package hikvision

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"strings"
)

// digestChallenge is a parsed WWW-Authenticate: Digest header.
type digestChallenge struct {
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string
	Qop       []string
	Stale     bool
}

// parseDigestChallenge extracts the Digest parameters from a
// WWW-Authenticate header value. Returns an error if the header is not a
// Digest challenge or lacks a nonce.
func parseDigestChallenge(header string) (*digestChallenge, error) {
	const prefix = "Digest "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return nil, fmt.Errorf("not a digest challenge: %q", header)
	}
	ch := &digestChallenge{Algorithm: "MD5"}
	for _, kv := range splitAuthParams(header[len(prefix):]) {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		key = strings.ToLower(strings.TrimSpace(key))
		value = strings.Trim(strings.TrimSpace(value), `"`)
		switch key {
		case "realm":
			ch.Realm = value
		case "nonce":
			ch.Nonce = value
		case "opaque":
			ch.Opaque = value
		case "algorithm":
			ch.Algorithm = value
		case "qop":
			for _, q := range strings.Split(value, ",") {
				ch.Qop = append(ch.Qop, strings.TrimSpace(q))
			}
		case "stale":
			ch.Stale = strings.EqualFold(value, "true")
		}
	}
	if ch.Nonce == "" {
		return nil, fmt.Errorf("digest challenge missing nonce")
	}
	return ch, nil
}

// splitAuthParams splits a comma separated parameter list, honoring quoted
// strings (qop="auth,auth-int" must stay one parameter).
func splitAuthParams(s string) []string {
	var out []string
	var buf strings.Builder
	inQuotes := false
	for _, r := range s {
		switch {
		case r == '"':
			inQuotes = !inQuotes
			buf.WriteRune(r)
		case r == ',' && !inQuotes:
			if p := strings.TrimSpace(buf.String()); p != "" {
				out = append(out, p)
			}
			buf.Reset()
		default:
			buf.WriteRune(r)
		}
	}
	if p := strings.TrimSpace(buf.String()); p != "" {
		out = append(out, p)
	}
	return out
}

// digestAuth computes Authorization header values for one connection. The
// nonce counter is monotonic per connection; a reconnect builds a fresh
// digestAuth, which resets it.
type digestAuth struct {
	challenge *digestChallenge
	username  string
	password  string
	nc        uint32

	// newCnonce is overridable in tests to pin the client nonce.
	newCnonce func() string
}

func newDigestAuth(ch *digestChallenge, username, password string) *digestAuth {
	return &digestAuth{
		challenge: ch,
		username:  username,
		password:  password,
		newCnonce: randomCnonce,
	}
}

func randomCnonce() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Authorize produces the Authorization header value for one request.
// Each call increments the nonce counter.
func (d *digestAuth) Authorize(method, uri string) (string, error) {
	h, err := hasherFor(d.challenge.Algorithm)
	if err != nil {
		return "", err
	}
	sess := strings.HasSuffix(strings.ToUpper(d.challenge.Algorithm), "-SESS")

	qop := ""
	for _, q := range d.challenge.Qop {
		if q == "auth" {
			qop = "auth"
			break
		}
	}
	if qop == "" && len(d.challenge.Qop) > 0 {
		return "", fmt.Errorf("unsupported qop values %v", d.challenge.Qop)
	}

	d.nc++
	nc := fmt.Sprintf("%08x", d.nc)
	cnonce := d.newCnonce()

	ha1 := hexHash(h, fmt.Sprintf("%s:%s:%s", d.username, d.challenge.Realm, d.password))
	if sess {
		ha1 = hexHash(h, fmt.Sprintf("%s:%s:%s", ha1, d.challenge.Nonce, cnonce))
	}
	ha2 := hexHash(h, fmt.Sprintf("%s:%s", method, uri))

	var response string
	if qop == "auth" {
		response = hexHash(h, fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, d.challenge.Nonce, nc, cnonce, qop, ha2))
	} else {
		response = hexHash(h, fmt.Sprintf("%s:%s:%s", ha1, d.challenge.Nonce, ha2))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `Digest username=%q, realm=%q, nonce=%q, uri=%q, response=%q`,
		d.username, d.challenge.Realm, d.challenge.Nonce, uri, response)
	fmt.Fprintf(&sb, `, algorithm=%s`, d.challenge.Algorithm)
	if qop == "auth" {
		fmt.Fprintf(&sb, `, qop=auth, nc=%s, cnonce=%q`, nc, cnonce)
	}
	if d.challenge.Opaque != "" {
		fmt.Fprintf(&sb, `, opaque=%q`, d.challenge.Opaque)
	}
	return sb.String(), nil
}

func hasherFor(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(strings.TrimSuffix(strings.ToUpper(algorithm), "-SESS")) {
	case "", "MD5":
		return md5.New, nil
	case "SHA-256":
		return sha256.New, nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", algorithm)
	}
}

func hexHash(newHash func() hash.Hash, data string) string {
	h := newHash()
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}
