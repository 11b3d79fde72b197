package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// AuthType identifies how a profile authenticates
type AuthType string

const (
	AuthPassword AuthType = "password"
	AuthKeyFile  AuthType = "key_file"
)

// Credential is either a password or a key file with an optional passphrase.
// Secret material is only reachable through the accessor methods below.
type Credential struct {
	kind          AuthType
	secret        string
	keyPath       string
	passphrase    string
	hasPassphrase bool
}

// PasswordCredential creates a password credential
func PasswordCredential(secret string) Credential {
	return Credential{kind: AuthPassword, secret: secret}
}

// KeyFileCredential creates a key file credential. A nil passphrase means the
// key is not encrypted.
func KeyFileCredential(path string, passphrase *string) Credential {
	c := Credential{kind: AuthKeyFile, keyPath: path}
	if passphrase != nil {
		c.passphrase = *passphrase
		c.hasPassphrase = true
	}
	return c
}

// Kind returns the auth type, empty for a zero Credential
func (c Credential) Kind() AuthType { return c.kind }

// Secret returns the password for password credentials
func (c Credential) Secret() string { return c.secret }

// KeyPath returns the private key path for key file credentials
func (c Credential) KeyPath() string { return c.keyPath }

// Passphrase returns the key passphrase and whether one was set
func (c Credential) Passphrase() (string, bool) { return c.passphrase, c.hasPassphrase }

// IsZero reports whether no credential has been set
func (c Credential) IsZero() bool { return c.kind == "" }

// Validate checks that the credential carries what its kind needs
func (c Credential) Validate() error {
	switch c.kind {
	case AuthPassword:
		return nil
	case AuthKeyFile:
		if c.keyPath == "" {
			return errors.New("key file path is required")
		}
		return nil
	case "":
		return errors.New("no credential")
	default:
		return fmt.Errorf("unknown auth type %q", c.kind)
	}
}

// Clear drops the secret material, keeping only the kind and key path
func (c *Credential) Clear() {
	c.secret = ""
	c.passphrase = ""
	c.hasPassphrase = false
}

// String never includes secrets
func (c Credential) String() string {
	switch c.kind {
	case AuthPassword:
		return "password(***)"
	case AuthKeyFile:
		if c.hasPassphrase {
			return fmt.Sprintf("key_file(%s, passphrase ***)", c.keyPath)
		}
		return fmt.Sprintf("key_file(%s)", c.keyPath)
	default:
		return "none"
	}
}

// LogValue keeps credentials out of structured logs
func (c Credential) LogValue() slog.Value {
	return slog.StringValue(c.String())
}

type credentialJSON struct {
	Type       AuthType `json:"type"`
	Password   *string  `json:"password,omitempty"`
	Path       *string  `json:"path,omitempty"`
	Passphrase *string  `json:"passphrase"`
}

// MarshalJSON writes the persisted auth record
func (c Credential) MarshalJSON() ([]byte, error) {
	switch c.kind {
	case AuthPassword:
		secret := c.secret
		// password records carry no passphrase key at all
		return json.Marshal(struct {
			Type     AuthType `json:"type"`
			Password *string  `json:"password"`
		}{Type: AuthPassword, Password: &secret})
	case AuthKeyFile:
		rec := credentialJSON{Type: AuthKeyFile, Path: &c.keyPath}
		if c.hasPassphrase {
			p := c.passphrase
			rec.Passphrase = &p
		}
		return json.Marshal(rec)
	default:
		return nil, fmt.Errorf("cannot marshal credential of type %q", c.kind)
	}
}

// UnmarshalJSON reads the persisted auth record
func (c *Credential) UnmarshalJSON(data []byte) error {
	var rec credentialJSON
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	switch rec.Type {
	case AuthPassword:
		secret := ""
		if rec.Password != nil {
			secret = *rec.Password
		}
		*c = PasswordCredential(secret)
	case AuthKeyFile:
		if rec.Path == nil || *rec.Path == "" {
			return errors.New("key_file auth requires a path")
		}
		*c = KeyFileCredential(*rec.Path, rec.Passphrase)
	default:
		return fmt.Errorf("unknown auth type %q", rec.Type)
	}
	return nil
}
