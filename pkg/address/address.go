// Package address parses remote panel addresses of the form
// user@host[:port]:/path and matches them against saved profiles.
package address

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"unicode"

	"github.com/quocson95/duopane/pkg/storage"
)

// ErrNotRemote is returned by Parse for input that is a local or relative path
var ErrNotRemote = errors.New("not a remote address")

// ParseError describes a malformed remote address
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid address %q: %s", e.Input, e.Reason)
}

// Address is a parsed remote location
type Address struct {
	User string
	Host string
	Port int
	Path string
}

// Key returns the profile matching key for the address
func (a Address) Key() storage.ProfileKey {
	return storage.ProfileKey{User: a.User, Host: a.Host, Port: a.Port}
}

// SameTarget reports whether the address points at the profile's host
func (a Address) SameTarget(p storage.Profile) bool {
	return a.Key() == p.Key()
}

// String renders the canonical display form
func (a Address) String() string {
	return format(a.User, a.Host, a.Port, a.Path)
}

// IsLocalPath reports whether input looks like a local absolute path
func IsLocalPath(input string) bool {
	input = strings.TrimLeftFunc(input, unicode.IsSpace)
	return strings.HasPrefix(input, "/") || strings.HasPrefix(input, "~")
}

// Parse parses user@host:/path or user@host:port:/path.
// Local-looking input and input without a user part or without a ':' after
// the host yield ErrNotRemote. Only leading whitespace is dropped, since
// trailing whitespace belongs to the path.
func Parse(input string) (Address, error) {
	raw := strings.TrimLeftFunc(input, unicode.IsSpace)
	if raw == "" || IsLocalPath(raw) {
		return Address{}, ErrNotRemote
	}

	// the user part may itself contain '@', the path may too
	head := raw
	if slash := strings.Index(raw, "/"); slash >= 0 {
		head = raw[:slash]
	}
	at := strings.LastIndex(head, "@")
	if at < 0 {
		return Address{}, ErrNotRemote
	}
	fail := func(reason string) (Address, error) {
		return Address{}, &ParseError{Input: input, Reason: reason}
	}

	user := raw[:at]
	if user == "" {
		return fail("missing user")
	}
	rest := raw[at+1:]

	var host string
	if strings.HasPrefix(rest, "[") {
		end := strings.Index(rest, "]")
		if end < 0 {
			return fail("unterminated '[' in host")
		}
		host = rest[1:end]
		rest = rest[end+1:]
		if !strings.HasPrefix(rest, ":") {
			return Address{}, ErrNotRemote
		}
		rest = rest[1:]
	} else {
		colon := strings.Index(rest, ":")
		if colon < 0 {
			// backup@2024 or me@home/docs are local names
			return Address{}, ErrNotRemote
		}
		host = rest[:colon]
		rest = rest[colon+1:]
	}
	if host == "" {
		return fail("missing host")
	}

	port := storage.DefaultPort
	if !strings.HasPrefix(rest, "/") {
		colon := strings.Index(rest, ":")
		if colon < 0 {
			return fail("path must be absolute")
		}
		p, err := strconv.Atoi(rest[:colon])
		if err != nil || p <= 0 || p > 65535 {
			return fail(fmt.Sprintf("invalid port %q", rest[:colon]))
		}
		port = p
		rest = rest[colon+1:]
		if !strings.HasPrefix(rest, "/") {
			return fail("path must be absolute")
		}
	}

	return Address{User: user, Host: host, Port: port, Path: rest}, nil
}

// FindMatchingProfile returns the first profile whose user, host and port all
// equal the given ones.
func FindMatchingProfile(profiles []storage.Profile, user, host string, port int) (storage.Profile, bool) {
	key := storage.ProfileKey{User: user, Host: host, Port: port}
	for _, p := range profiles {
		if p.Key() == key {
			return p, true
		}
	}
	return storage.Profile{}, false
}

// FormatDisplay renders the canonical user@host:/path form used in panel
// headers. Port 22 is omitted.
func FormatDisplay(p storage.Profile, remotePath string) string {
	return format(p.User, p.Host, p.Port, remotePath)
}

// ResolveRelative resolves input against a remote working directory.
// Absolute input is returned cleaned.
func ResolveRelative(cwd, input string) string {
	if strings.HasPrefix(input, "/") {
		return path.Clean(input)
	}
	if cwd == "" {
		cwd = "/"
	}
	return path.Join(cwd, input)
}

func format(user, host string, port int, remotePath string) string {
	if remotePath == "" {
		remotePath = "/"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port == 0 || port == storage.DefaultPort {
		return fmt.Sprintf("%s@%s:%s", user, host, remotePath)
	}
	return fmt.Sprintf("%s@%s:%d:%s", user, host, port, remotePath)
}
