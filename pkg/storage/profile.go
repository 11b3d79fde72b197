package storage

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultPort is the SSH port used when a profile or address omits one
const DefaultPort = 22

// ErrDuplicateName is returned when a different profile already uses the name
var ErrDuplicateName = errors.New("profile name already in use")

// Profile represents a saved remote connection
type Profile struct {
	Name        string     `json:"name"`
	Host        string     `json:"host"`
	Port        int        `json:"port"`
	User        string     `json:"user"`
	Auth        Credential `json:"auth"`
	DefaultPath string     `json:"default_path"`
}

// ProfileKey is the (user, host, port) triple profiles are matched on
type ProfileKey struct {
	User string
	Host string
	Port int
}

// String returns the connection identifier for this key
func (k ProfileKey) String() string {
	return fmt.Sprintf("%s@%s:%d", k.User, k.Host, k.Port)
}

// Key returns the matching key of the profile
func (p Profile) Key() ProfileKey {
	return ProfileKey{User: p.User, Host: p.Host, Port: p.Port}
}

// Validate checks if the profile can be used to connect
func (p Profile) Validate() error {
	if p.Host == "" {
		return errors.New("host is required")
	}
	if p.Port <= 0 || p.Port > 65535 {
		return errors.New("invalid port number")
	}
	if p.User == "" {
		return errors.New("user is required")
	}
	return p.Auth.Validate()
}

// WithoutSecrets returns a copy of the profile with the credential cleared
func (p Profile) WithoutSecrets() Profile {
	p.Auth.Clear()
	return p
}

func (p *Profile) normalize() {
	if p.Port == 0 {
		p.Port = DefaultPort
	}
	p.Name = strings.TrimSpace(p.Name)
}

// ProfileSummary is a secret-free view of a profile for listings and exports
type ProfileSummary struct {
	Name        string   `json:"name" yaml:"name"`
	Host        string   `json:"host" yaml:"host"`
	Port        int      `json:"port" yaml:"port"`
	User        string   `json:"user" yaml:"user"`
	AuthType    AuthType `json:"auth_type" yaml:"auth_type"`
	KeyPath     string   `json:"key_path,omitempty" yaml:"key_path,omitempty"`
	DefaultPath string   `json:"default_path" yaml:"default_path"`
}

// Summary returns the secret-free view of the profile
func (p Profile) Summary() ProfileSummary {
	return ProfileSummary{
		Name:        p.Name,
		Host:        p.Host,
		Port:        p.Port,
		User:        p.User,
		AuthType:    p.Auth.Kind(),
		KeyPath:     p.Auth.KeyPath(),
		DefaultPath: p.DefaultPath,
	}
}

// upsertProfile overwrites the entry with the same key or appends a new one.
// Names must stay unique across different keys.
func upsertProfile(profiles []Profile, p Profile) ([]Profile, error) {
	idx := -1
	for i, existing := range profiles {
		if existing.Key() == p.Key() {
			if idx == -1 {
				idx = i
			}
			continue
		}
		if p.Name != "" && existing.Name == p.Name {
			return profiles, fmt.Errorf("%w: %s", ErrDuplicateName, p.Name)
		}
	}

	out := make([]Profile, len(profiles))
	copy(out, profiles)
	if idx >= 0 {
		out[idx] = p
		return out, nil
	}
	return append(out, p), nil
}
