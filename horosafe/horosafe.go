// Package horosafe guards the edges where user input meets the filesystem
// or the network: inbox path resolution, conversion-engine URLs (SSRF),
// caller-supplied identifiers, and bounded body reads.
package horosafe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// MaxResponseBody caps conversion-engine responses (32 MiB, enough for the
// markdown of a large PDF).
const MaxResponseBody int64 = 32 << 20

// MaxIdentifier is the longest accepted task or document ID.
const MaxIdentifier = 256

var (
	// ErrPathTraversal is returned when a user-supplied path escapes its base.
	ErrPathTraversal = errors.New("horosafe: path traversal detected")
	// ErrSSRF is returned when a URL targets a private or loopback address.
	ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")
	// ErrUnsafeScheme is returned when a URL is neither http nor https.
	ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")
)

// lookupHost resolves engine hostnames. Replaced in tests.
var lookupHost = func(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

// SafePath resolves userInput inside base. A leading slash is taken as
// relative to base; any ".." segment is rejected even when it would
// normalise back inside.
func SafePath(base, userInput string) (string, error) {
	if strings.ContainsRune(userInput, 0) {
		return "", ErrPathTraversal
	}
	rel := strings.TrimLeft(filepath.ToSlash(userInput), "/")
	if slices.Contains(strings.Split(rel, "/"), "..") {
		return "", ErrPathTraversal
	}
	if rel == "" {
		return filepath.Clean(base), nil
	}
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", ErrPathTraversal
	}
	return filepath.Join(base, filepath.FromSlash(rel)), nil
}

// ValidateEndpoint checks that rawURL is http(s) with a host. Unless
// allowPrivate is set, literal and resolved addresses must all be public;
// engines deployed next to the service need allowPrivate. A host that does
// not resolve passes, since the request will fail on its own.
func ValidateEndpoint(rawURL string, allowPrivate bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return errors.New("horosafe: URL has no host")
	}
	if allowPrivate {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	addrs, err := lookupHost(ctx, host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return fmt.Errorf("%w: %s resolves to %s", ErrSSRF, host, a)
		}
	}
	return nil
}

// ValidateIdentifier accepts IDs made of ASCII letters, digits and "_-.",
// which are safe in SQL values, URL path segments and file names.
func ValidateIdentifier(s string) error {
	if s == "" {
		return errors.New("horosafe: identifier must not be empty")
	}
	if len(s) > MaxIdentifier {
		return fmt.Errorf("horosafe: identifier too long (max %d)", MaxIdentifier)
	}
	if i := strings.IndexFunc(s, func(r rune) bool { return !isIdentChar(r) }); i >= 0 {
		return fmt.Errorf("horosafe: invalid character %q in identifier", []rune(s[i:])[0])
	}
	if strings.Trim(s, ".") == "" {
		return errors.New("horosafe: identifier must not be only dots")
	}
	return nil
}

// LimitedReadAll reads at most maxBytes from r and fails past the limit.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("horosafe: body exceeds %d bytes", maxBytes)
	}
	return data, nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

func isPrivateIP(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
}
