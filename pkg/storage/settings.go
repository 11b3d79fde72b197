package storage

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Settings represents application settings
type Settings struct {
	DisableRsync         bool      `json:"disableRsync"`         // Always use the scp fallback
	KeepaliveIntervalSec int       `json:"keepaliveIntervalSec"` // Seconds between keepalive requests
	KeepaliveMaxMissed   int       `json:"keepaliveMaxMissed"`   // Missed replies before a session is dropped
	IdleTimeoutSec       int       `json:"idleTimeoutSec"`       // Seconds without traffic before a session is dropped
	DialTimeoutSec       int       `json:"dialTimeoutSec"`
	VerifyHostKeys       bool      `json:"verifyHostKeys"` // Check host keys against KnownHostsPath
	KnownHostsPath       string    `json:"knownHostsPath,omitempty"`
	S3Host               string    `json:"s3Host,omitempty"`
	S3AccessKey          string    `json:"s3AccessKey,omitempty"`
	S3SecretKey          string    `json:"s3SecretKey,omitempty"`
	RemoteProfiles       []Profile `json:"remote_profiles,omitempty"`
}

// KeepaliveInterval returns the keepalive interval as a duration
func (s Settings) KeepaliveInterval() time.Duration {
	return time.Duration(s.KeepaliveIntervalSec) * time.Second
}

// IdleTimeout returns the idle timeout as a duration
func (s Settings) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSec) * time.Second
}

// DialTimeout returns the dial timeout as a duration
func (s Settings) DialTimeout() time.Duration {
	return time.Duration(s.DialTimeoutSec) * time.Second
}

// SettingsStore manages application settings and saved profiles
type SettingsStore struct {
	settings Settings
	filePath string
	mu       sync.RWMutex
}

// NewSettingsStore creates a new settings store
func NewSettingsStore(dataDir string) (*SettingsStore, error) {
	// Ensure data directory exists
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	store := &SettingsStore{
		settings: getDefaultSettings(),
		filePath: filepath.Join(dataDir, "settings.json"),
	}

	if err := store.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// First run, write defaults
		if err := store.save(); err != nil {
			return nil, err
		}
	}

	return store, nil
}

// getDefaultSettings returns default settings
func getDefaultSettings() Settings {
	return Settings{
		DisableRsync:         false,
		KeepaliveIntervalSec: 15,
		KeepaliveMaxMissed:   3,
		IdleTimeoutSec:       60,
		DialTimeoutSec:       30,
	}
}

func (s *Settings) applyDefaults() {
	def := getDefaultSettings()
	if s.KeepaliveIntervalSec <= 0 {
		s.KeepaliveIntervalSec = def.KeepaliveIntervalSec
	}
	if s.KeepaliveMaxMissed <= 0 {
		s.KeepaliveMaxMissed = def.KeepaliveMaxMissed
	}
	if s.IdleTimeoutSec <= 0 {
		s.IdleTimeoutSec = def.IdleTimeoutSec
	}
	if s.DialTimeoutSec <= 0 {
		s.DialTimeoutSec = def.DialTimeoutSec
	}
	for i := range s.RemoteProfiles {
		s.RemoteProfiles[i].normalize()
	}
}

// load reads settings from disk
func (s *SettingsStore) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	// Empty file is treated as defaults
	if len(data) == 0 {
		return s.save()
	}

	var loaded Settings
	if err := json.Unmarshal(data, &loaded); err != nil {
		// Invalid JSON - keep a copy and reset
		backupPath := s.filePath + ".corrupted"
		if backupErr := os.WriteFile(backupPath, data, 0600); backupErr != nil {
			return fmt.Errorf("failed to parse settings file: %w", err)
		}
		slog.Warn("corrupted settings file reset", "backup", backupPath, "error", err)
		s.settings = getDefaultSettings()
		return s.save()
	}

	loaded.applyDefaults()
	s.settings = loaded
	return nil
}

// save writes settings to disk
func (s *SettingsStore) save() error {
	data, err := json.MarshalIndent(s.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	return os.WriteFile(s.filePath, data, 0600)
}

// Get returns current settings
func (s *SettingsStore) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := s.settings
	out.RemoteProfiles = append([]Profile(nil), s.settings.RemoteProfiles...)
	return out
}

// Update replaces all settings
func (s *SettingsStore) Update(settings Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings.applyDefaults()
	s.settings = settings
	return s.save()
}

// Profiles returns a copy of the saved profiles
func (s *SettingsStore) Profiles() []Profile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]Profile(nil), s.settings.RemoteProfiles...)
}

// SaveProfile adds the profile, or overwrites the saved one with the same
// user, host and port.
func (s *SettingsStore) SaveProfile(p Profile) error {
	p.normalize()
	if err := p.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	if p.Name == "" {
		p.Name = p.Key().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	profiles, err := upsertProfile(s.settings.RemoteProfiles, p)
	if err != nil {
		return err
	}
	s.settings.RemoteProfiles = profiles
	return s.save()
}

// DeleteProfile removes a profile by name
func (s *SettingsStore) DeleteProfile(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, p := range s.settings.RemoteProfiles {
		if p.Name == name {
			s.settings.RemoteProfiles = append(s.settings.RemoteProfiles[:i:i], s.settings.RemoteProfiles[i+1:]...)
			return s.save()
		}
	}
	return fmt.Errorf("profile not found: %s", name)
}

// ReplaceProfiles swaps the whole profile list, used when restoring a backup
func (s *SettingsStore) ReplaceProfiles(profiles []Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Profile, 0, len(profiles))
	var err error
	for _, p := range profiles {
		p.normalize()
		if next, err = upsertProfile(next, p); err != nil {
			return err
		}
	}
	s.settings.RemoteProfiles = next
	return s.save()
}

// Reset resets settings to defaults, keeping saved profiles
func (s *SettingsStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	profiles := s.settings.RemoteProfiles
	s.settings = getDefaultSettings()
	s.settings.RemoteProfiles = profiles
	return s.save()
}

// GetDataDir returns the directory where settings are stored
func (s *SettingsStore) GetDataDir() string {
	return filepath.Dir(s.filePath)
}
