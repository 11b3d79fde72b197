package transfer

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/quocson95/duopane/pkg/remote"
	"github.com/quocson95/duopane/pkg/storage"
)

// Tool names
const (
	ToolRsync   = "rsync"
	ToolSCP     = "scp"
	ToolSSHPass = "sshpass"
)

// hostKeyFlags matches the session's accept-any host key policy
var hostKeyFlags = []string{"-o", "StrictHostKeyChecking=no", "-o", "UserKnownHostsFile=/dev/null"}

// Capabilities reports which external tools are installed
type Capabilities struct {
	Primary        bool // rsync
	Fallback       bool // scp
	PasswordHelper bool // sshpass
}

// CapabilityCheck probes the local system. It is called once per transfer.
type CapabilityCheck func() Capabilities

// DetectCapabilities looks the tools up with lookPath
func DetectCapabilities(lookPath func(string) (string, error)) Capabilities {
	has := func(name string) bool {
		_, err := lookPath(name)
		return err == nil
	}
	return Capabilities{
		Primary:        has(ToolRsync),
		Fallback:       has(ToolSCP),
		PasswordHelper: has(ToolSSHPass),
	}
}

// SystemCapabilities probes PATH
func SystemCapabilities() Capabilities {
	return DetectCapabilities(exec.LookPath)
}

// Command is a fully built subprocess invocation
type Command struct {
	// Tool is the copy tool doing the work, rsync or scp
	Tool string
	// Path is the executable to spawn; sshpass when it wraps the tool
	Path string
	Args []string
	// Env holds extra environment entries. It may carry secrets.
	Env []string
}

// String renders the command line. Env is never included.
func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// BuildCommand picks the tool and builds its command line for plan
func BuildCommand(plan Plan, caps Capabilities, disableRsync bool) (Command, error) {
	if err := plan.Validate(); err != nil {
		return Command{}, err
	}

	var tool string
	switch {
	case caps.Primary && !disableRsync:
		tool = ToolRsync
	case caps.Fallback:
		tool = ToolSCP
	default:
		return Command{}, &TransferError{Tool: ToolRsync, Err: ErrNoTool}
	}

	cred := plan.Remote.Auth
	var helperArgs, env []string
	switch cred.Kind() {
	case storage.AuthPassword:
		helperArgs = []string{"-e"}
		env = []string{"SSHPASS=" + cred.Secret()}
	case storage.AuthKeyFile:
		if pass, ok := cred.Passphrase(); ok && pass != "" {
			helperArgs = []string{"-P", "passphrase", "-e"}
			env = []string{"SSHPASS=" + pass}
		}
	}
	if helperArgs != nil && !caps.PasswordHelper {
		return Command{}, &TransferError{Tool: ToolSSHPass, Err: ErrHelperMissing}
	}

	src, dst := endpoints(plan)

	var args []string
	if tool == ToolRsync {
		args = rsyncArgs(plan.Remote, src, dst)
	} else {
		args = scpArgs(plan.Remote, src, dst)
	}

	if helperArgs == nil {
		return Command{Tool: tool, Path: tool, Args: args}, nil
	}
	wrapped := append(append(helperArgs, tool), args...)
	return Command{Tool: tool, Path: ToolSSHPass, Args: wrapped, Env: env}, nil
}

func rsyncArgs(p storage.Profile, src, dst string) []string {
	shell := []string{"ssh"}
	if keyPath := keyFile(p.Auth); keyPath != "" {
		shell = append(shell, "-i", "'"+keyPath+"'")
	}
	shell = append(shell, "-p", strconv.Itoa(p.Port))
	shell = append(shell, hostKeyFlags...)

	return []string{
		"-avz", "--info=progress2", "--no-inc-recursive",
		"-e", strings.Join(shell, " "),
		src, dst,
	}
}

func scpArgs(p storage.Profile, src, dst string) []string {
	args := []string{"-r", "-P", strconv.Itoa(p.Port)}
	if keyPath := keyFile(p.Auth); keyPath != "" {
		args = append(args, "-i", keyPath)
	}
	args = append(args, hostKeyFlags...)
	return append(args, src, dst)
}

func keyFile(cred storage.Credential) string {
	if cred.Kind() != storage.AuthKeyFile {
		return ""
	}
	keyPath := remote.ExpandHome(cred.KeyPath())
	if runtime.GOOS == "windows" {
		keyPath = filepath.ToSlash(keyPath)
	}
	return keyPath
}

// endpoints renders source and destination. The source has no trailing
// slash so directories are copied as themselves; the destination always
// has one so both tools treat it as the parent directory.
func endpoints(plan Plan) (string, string) {
	src := trimTrailingSlash(plan.Source)
	dst := plan.DestDir
	if !strings.HasSuffix(dst, "/") {
		dst += "/"
	}

	if plan.Direction == Upload {
		if runtime.GOOS == "windows" {
			src = filepath.ToSlash(src)
		}
		return src, remoteSpec(plan.Remote, dst)
	}
	if runtime.GOOS == "windows" {
		dst = filepath.ToSlash(dst)
	}
	return remoteSpec(plan.Remote, src), dst
}

func trimTrailingSlash(p string) string {
	trimmed := strings.TrimRight(p, "/")
	if trimmed == "" {
		return p
	}
	return trimmed
}

func remoteSpec(p storage.Profile, remotePath string) string {
	host := p.Host
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s@%s:%s", p.User, host, remotePath)
}
