// Package fp computes stable identities for download requests.
package fp

import (
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// NormalizeSource trims whitespace, lowercases the scheme and host, drops
// the fragment and a default port. Anything that does not parse as an
// absolute URL is only trimmed.
func NormalizeSource(s string) string {
	s = strings.TrimSpace(s)
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return s
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
		port = ""
	}
	switch {
	case port != "":
		u.Host = net.JoinHostPort(host, port)
	case strings.Contains(host, ":"):
		u.Host = "[" + host + "]"
	default:
		u.Host = host
	}
	u.Fragment = ""
	u.RawFragment = ""
	if u.Path == "" {
		u.Path = "/"
	}
	return u.String()
}

// NormalizeTargetPath trims whitespace and cleans the path using filepath.Clean.
// Paths are not lowercased; the filesystems we run on are case-sensitive.
func NormalizeTargetPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return p
	}
	return filepath.Clean(p)
}

// Fingerprint computes a stable hex-encoded SHA-256 over the normalized
// source and destination file path. Identical requests share a fingerprint.
func Fingerprint(source, targetPath string) string {
	h := sha256.New()
	h.Write([]byte(NormalizeSource(source)))
	h.Write([]byte{0})
	h.Write([]byte(NormalizeTargetPath(targetPath)))
	return hex.EncodeToString(h.Sum(nil))
}
