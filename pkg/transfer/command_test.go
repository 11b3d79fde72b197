package transfer

import (
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/quocson95/duopane/pkg/storage"
)

func passwordProfile() storage.Profile {
	return storage.Profile{Host: "example.com", Port: 2222, User: "admin", Auth: storage.PasswordCredential("secret")}
}

func keyProfile(passphrase *string) storage.Profile {
	return storage.Profile{Host: "example.com", Port: 22, User: "admin", Auth: storage.KeyFileCredential("/keys/id_ed25519", passphrase)}
}

var allTools = Capabilities{Primary: true, Fallback: true, PasswordHelper: true}

func TestBuildCommand_Primary(t *testing.T) {
	t.Run("Core Functionality: key upload", func(t *testing.T) {
		plan := NewPlan(Upload, "/home/me/site/", "/var/www", true, keyProfile(nil))
		c, err := BuildCommand(plan, allTools, false)
		if err != nil {
			t.Fatalf("BuildCommand failed: %v", err)
		}

		want := []string{
			"-avz", "--info=progress2", "--no-inc-recursive",
			"-e", "ssh -i '/keys/id_ed25519' -p 22 -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null",
			"/home/me/site", "admin@example.com:/var/www/",
		}
		if c.Tool != ToolRsync || c.Path != ToolRsync {
			t.Errorf("Expected plain rsync, got tool=%s path=%s", c.Tool, c.Path)
		}
		if !slices.Equal(c.Args, want) {
			t.Errorf("Args mismatch\n got: %q\nwant: %q", c.Args, want)
		}
		if len(c.Env) != 0 {
			t.Errorf("key auth without passphrase needs no env, got %v", c.Env)
		}
	})

	t.Run("Core Functionality: password download wrapped in sshpass", func(t *testing.T) {
		plan := NewPlan(Download, "/var/log/app.log", "/tmp/logs", false, passwordProfile())
		c, err := BuildCommand(plan, allTools, false)
		if err != nil {
			t.Fatalf("BuildCommand failed: %v", err)
		}

		if c.Path != ToolSSHPass || c.Tool != ToolRsync {
			t.Fatalf("Expected sshpass wrapping rsync, got path=%s tool=%s", c.Path, c.Tool)
		}
		if !slices.Equal(c.Args[:2], []string{"-e", "rsync"}) {
			t.Errorf("unexpected wrapper args %q", c.Args[:2])
		}
		if !slices.Contains(c.Env, "SSHPASS=secret") {
			t.Errorf("password must be passed through SSHPASS, env=%v", c.Env)
		}
		if strings.Contains(strings.Join(c.Args, " "), "secret") {
			t.Error("password leaked onto the command line")
		}
		if strings.Contains(c.String(), "secret") {
			t.Error("password leaked into String()")
		}

		n := len(c.Args)
		if c.Args[n-2] != "admin@example.com:/var/log/app.log" || c.Args[n-1] != "/tmp/logs/" {
			t.Errorf("unexpected endpoints %q", c.Args[n-2:])
		}
		if !strings.Contains(strings.Join(c.Args, " "), "-p 2222") {
			t.Error("port not passed to the remote shell")
		}
		if strings.Contains(strings.Join(c.Args, " "), " -i ") {
			t.Error("password auth must not pass -i")
		}
	})

	t.Run("Core Functionality: encrypted key uses passphrase prompt", func(t *testing.T) {
		pass := "open sesame"
		plan := NewPlan(Upload, "/a", "/b", false, keyProfile(&pass))
		c, err := BuildCommand(plan, allTools, false)
		if err != nil {
			t.Fatalf("BuildCommand failed: %v", err)
		}
		if !slices.Equal(c.Args[:4], []string{"-P", "passphrase", "-e", "rsync"}) {
			t.Errorf("unexpected wrapper args %q", c.Args[:4])
		}
		if !slices.Contains(c.Env, "SSHPASS=open sesame") {
			t.Errorf("unexpected env %v", c.Env)
		}
	})

	t.Run("Core Functionality: IPv6 host is bracketed", func(t *testing.T) {
		p := keyProfile(nil)
		p.Host = "fe80::1"
		c, err := BuildCommand(NewPlan(Upload, "/a", "/b", false, p), allTools, false)
		if err != nil {
			t.Fatal(err)
		}
		if got := c.Args[len(c.Args)-1]; got != "admin@[fe80::1]:/b/" {
			t.Errorf("unexpected destination %q", got)
		}
	})
}

func TestBuildCommand_Fallback(t *testing.T) {
	t.Run("Core Functionality: scp when rsync is missing", func(t *testing.T) {
		caps := Capabilities{Fallback: true, PasswordHelper: true}
		plan := NewPlan(Upload, "/home/me/dir", "/srv", true, keyProfile(nil))
		c, err := BuildCommand(plan, caps, false)
		if err != nil {
			t.Fatalf("BuildCommand failed: %v", err)
		}

		want := []string{
			"-r", "-P", "22", "-i", "/keys/id_ed25519",
			"-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null",
			"/home/me/dir", "admin@example.com:/srv/",
		}
		if c.Tool != ToolSCP || c.Path != ToolSCP {
			t.Errorf("Expected scp, got tool=%s path=%s", c.Tool, c.Path)
		}
		if !slices.Equal(c.Args, want) {
			t.Errorf("Args mismatch\n got: %q\nwant: %q", c.Args, want)
		}
		for _, arg := range c.Args {
			if strings.HasPrefix(arg, "--info") || arg == "-avz" || arg == "--no-inc-recursive" {
				t.Errorf("fallback carries rsync flag %q", arg)
			}
		}
	})

	t.Run("Core Functionality: disabled rsync forces scp", func(t *testing.T) {
		c, err := BuildCommand(NewPlan(Upload, "/a", "/b", false, keyProfile(nil)), allTools, true)
		if err != nil {
			t.Fatal(err)
		}
		if c.Tool != ToolSCP {
			t.Errorf("Expected scp, got %s", c.Tool)
		}
	})

	t.Run("Core Functionality: password scp wrapped in sshpass", func(t *testing.T) {
		caps := Capabilities{Fallback: true, PasswordHelper: true}
		c, err := BuildCommand(NewPlan(Upload, "/a", "/b", false, passwordProfile()), caps, false)
		if err != nil {
			t.Fatal(err)
		}
		if c.Path != ToolSSHPass || c.Args[1] != ToolSCP {
			t.Errorf("unexpected command %s", c)
		}
		if !slices.Contains(c.Args, "2222") {
			t.Error("port missing")
		}
	})
}

func TestBuildCommand_Errors(t *testing.T) {
	t.Run("Error Handling: password without helper", func(t *testing.T) {
		caps := Capabilities{Primary: true, Fallback: true}
		_, err := BuildCommand(NewPlan(Upload, "/a", "/b", false, passwordProfile()), caps, false)
		if !errors.Is(err, ErrHelperMissing) {
			t.Fatalf("Expected ErrHelperMissing, got %v", err)
		}
		var terr *TransferError
		if !errors.As(err, &terr) || terr.Tool != ToolSSHPass {
			t.Errorf("Expected TransferError naming sshpass, got %v", err)
		}
		if !strings.Contains(err.Error(), "install sshpass") {
			t.Errorf("message should tell the user what to install: %v", err)
		}
	})

	t.Run("Error Handling: no tool at all", func(t *testing.T) {
		_, err := BuildCommand(NewPlan(Upload, "/a", "/b", false, keyProfile(nil)), Capabilities{}, false)
		if !errors.Is(err, ErrNoTool) {
			t.Errorf("Expected ErrNoTool, got %v", err)
		}
	})

	t.Run("Input Validation: incomplete plan", func(t *testing.T) {
		if _, err := BuildCommand(NewPlan(Upload, "", "/b", false, keyProfile(nil)), allTools, false); err == nil {
			t.Error("Expected error for missing source")
		}
		if _, err := BuildCommand(NewPlan(Upload, "/a", "/b", false, storage.Profile{}), allTools, false); err == nil {
			t.Error("Expected error for missing remote")
		}
	})
}

func TestDetectCapabilities(t *testing.T) {
	installed := map[string]bool{"scp": true, "sshpass": true}
	caps := DetectCapabilities(func(name string) (string, error) {
		if installed[name] {
			return "/usr/bin/" + name, nil
		}
		return "", errors.New("not found")
	})
	if caps.Primary || !caps.Fallback || !caps.PasswordHelper {
		t.Errorf("unexpected capabilities %+v", caps)
	}
}

func TestPlan(t *testing.T) {
	a := NewPlan(Upload, "/home/me/dir/", "/srv", true, keyProfile(nil))
	b := NewPlan(Upload, "/home/me/dir/", "/srv", true, keyProfile(nil))
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("plans need unique IDs, got %q and %q", a.ID, b.ID)
	}
	if a.Name() != "dir" {
		t.Errorf("Name() = %q", a.Name())
	}
	if strings.Contains(a.String(), "secret") {
		t.Error("plan string leaks credentials")
	}
}
