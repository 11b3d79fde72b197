package address

import (
	"errors"
	"testing"

	"github.com/quocson95/duopane/pkg/storage"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  Address
	}{
		{"admin@example.com:/home/admin", Address{"admin", "example.com", 22, "/home/admin"}},
		{"admin@example.com:2222:/srv", Address{"admin", "example.com", 2222, "/srv"}},
		{"root@10.0.0.1:/", Address{"root", "10.0.0.1", 22, "/"}},
		{"  u@h:/with space/x", Address{"u", "h", 22, "/with space/x"}},
		{"admin@example.com:/srv/a file ", Address{"admin", "example.com", 22, "/srv/a file "}},
		{"\tu@h:/trailing tab\t", Address{"u", "h", 22, "/trailing tab\t"}},
		{"u@h:/a:/b@c", Address{"u", "h", 22, "/a:/b@c"}},
		{"me@corp.com@bastion:/tmp", Address{"me@corp.com", "bastion", 22, "/tmp"}},
		{"u@[::1]:2200:/var", Address{"u", "::1", 2200, "/var"}},
		{"u@[fe80::1]:/var", Address{"u", "fe80::1", 22, "/var"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseNotRemote(t *testing.T) {
	for _, input := range []string{"/home/user", "~/docs", "~", "docs/sub", "..", "", "  /srv", "backup@2024", "me@home/docs", "u@host", "u@[::1]"} {
		t.Run(input, func(t *testing.T) {
			if _, err := Parse(input); !errors.Is(err, ErrNotRemote) {
				t.Errorf("Parse(%q) error = %v, want ErrNotRemote", input, err)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"@host:/p",
		"u@:/p",
		"u@host:relative",
		"u@host:abc:/p",
		"u@host:0:/p",
		"u@host:70000:/p",
		"u@host:22:relative",
		"u@[::1:/p",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("Parse(%q) error = %v, want *ParseError", input, err)
			}
			if pe.Reason == "" {
				t.Error("ParseError should carry a reason")
			}
		})
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	inputs := []string{
		"admin@example.com:/home/admin",
		"admin@example.com:2222:/home/admin",
		"u@[::1]:2200:/var",
		"deploy@host-1:/",
	}
	for _, input := range inputs {
		t.Run(input, func(t *testing.T) {
			a, err := Parse(input)
			if err != nil {
				t.Fatal(err)
			}
			p := storage.Profile{User: a.User, Host: a.Host, Port: a.Port}
			out := FormatDisplay(p, a.Path)
			if out != input {
				t.Errorf("FormatDisplay = %q, want %q", out, input)
			}
			again, err := Parse(out)
			if err != nil || again != a {
				t.Errorf("reparse of %q = %+v, %v", out, again, err)
			}
		})
	}

	t.Run("explicit port 22 is omitted", func(t *testing.T) {
		a, err := Parse("u@h:22:/x")
		if err != nil {
			t.Fatal(err)
		}
		if got := a.String(); got != "u@h:/x" {
			t.Errorf("String() = %q", got)
		}
	})
}

func TestFormatDisplayStable(t *testing.T) {
	p := storage.Profile{Name: "web", User: "admin", Host: "example.com", Port: 22}
	first := FormatDisplay(p, "/var/www")
	for i := 0; i < 3; i++ {
		if got := FormatDisplay(p, "/var/www"); got != first {
			t.Fatalf("unstable output %q vs %q", got, first)
		}
	}
	if got := FormatDisplay(p, ""); got != "admin@example.com:/" {
		t.Errorf("empty path rendered as %q", got)
	}
}

func TestFindMatchingProfile(t *testing.T) {
	profiles := []storage.Profile{
		{Name: "first", User: "admin", Host: "example.com", Port: 22},
		{Name: "second", User: "admin", Host: "example.com", Port: 22},
		{Name: "other", User: "deploy", Host: "example.com", Port: 2222},
	}

	t.Run("Core Functionality: exact match, first wins", func(t *testing.T) {
		p, ok := FindMatchingProfile(profiles, "admin", "example.com", 22)
		if !ok || p.Name != "first" {
			t.Errorf("got %+v, %v", p, ok)
		}
	})

	misses := []struct {
		name string
		user string
		host string
		port int
	}{
		{"different user", "root", "example.com", 22},
		{"different host", "admin", "example.org", 22},
		{"different port", "admin", "example.com", 2222},
		{"case sensitive host", "admin", "Example.com", 22},
	}
	for _, tt := range misses {
		t.Run("No match: "+tt.name, func(t *testing.T) {
			if _, ok := FindMatchingProfile(profiles, tt.user, tt.host, tt.port); ok {
				t.Error("expected no match")
			}
		})
	}

	t.Run("Input Validation: empty list", func(t *testing.T) {
		if _, ok := FindMatchingProfile(nil, "admin", "example.com", 22); ok {
			t.Error("expected no match")
		}
	})
}

func TestResolveRelative(t *testing.T) {
	tests := []struct{ cwd, input, want string }{
		{"/home/admin", "docs", "/home/admin/docs"},
		{"/home/admin", "..", "/home"},
		{"/home/admin", "/etc/", "/etc"},
		{"", "x", "/x"},
		{"/", "../..", "/"},
	}
	for _, tt := range tests {
		if got := ResolveRelative(tt.cwd, tt.input); got != tt.want {
			t.Errorf("ResolveRelative(%q, %q) = %q, want %q", tt.cwd, tt.input, got, tt.want)
		}
	}
}
