package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cheggaaa/pb/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/quocson95/duopane/pkg/address"
	"github.com/quocson95/duopane/pkg/remote"
	"github.com/quocson95/duopane/pkg/storage"
	"github.com/quocson95/duopane/pkg/transfer"
)

type copyFlags struct {
	identity string
	scp      bool
}

func newCopyCommand(flags *globalFlags) *cobra.Command {
	var cf copyFlags

	cmd := &cobra.Command{
		Use:   "cp <src> <dst>",
		Short: "Copy a file or directory to or from a remote host",
		Long: `Copy one file or directory between the local machine and a remote host.
Exactly one side must be a remote address (user@host:/path or
user@host:port:/path). The remote side is copied into the destination
directory.

Credentials come from the saved profile with the same user, host and port.
Without one, --identity selects a private key, otherwise the password is
read from the terminal.`,
		Example: `  duopane cp ./site admin@web.example.com:/var/www
  duopane cp deploy@10.0.0.5:2222:/var/log/app.log .`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.open()
			if err != nil {
				return err
			}
			defer e.Close()

			plan, err := buildPlan(args[0], args[1], e.store.Profiles(), &cf)
			if err != nil {
				return err
			}

			engine := transfer.NewEngine(nil, transfer.WithDisableRsync(cf.scp || e.env.DisableRsync || e.store.Get().DisableRsync))
			return runCopy(cmd, engine, plan)
		},
	}

	cmd.Flags().StringVarP(&cf.identity, "identity", "i", "", "private key for hosts without a saved profile")
	cmd.Flags().BoolVar(&cf.scp, "scp", false, "use scp even when rsync is installed")
	return cmd
}

// buildPlan works out the direction of the copy and the remote credential
func buildPlan(src, dst string, profiles []storage.Profile, cf *copyFlags) (transfer.Plan, error) {
	srcAddr, srcErr := address.Parse(src)
	dstAddr, dstErr := address.Parse(dst)
	for _, err := range []error{srcErr, dstErr} {
		if err != nil && !errors.Is(err, address.ErrNotRemote) {
			return transfer.Plan{}, err
		}
	}

	srcRemote, dstRemote := srcErr == nil, dstErr == nil
	switch {
	case srcRemote && dstRemote:
		return transfer.Plan{}, errors.New("copying between two remote hosts is not supported")
	case !srcRemote && !dstRemote:
		return transfer.Plan{}, errors.New("one side must be a remote address (user@host:/path)")
	}

	if srcRemote {
		local, err := localPath(dst)
		if err != nil {
			return transfer.Plan{}, err
		}
		profile, err := remoteProfile(srcAddr, profiles, cf)
		if err != nil {
			return transfer.Plan{}, err
		}
		return transfer.NewPlan(transfer.Download, srcAddr.Path, local, false, profile), nil
	}

	local, err := localPath(src)
	if err != nil {
		return transfer.Plan{}, err
	}
	info, err := os.Stat(local)
	if err != nil {
		return transfer.Plan{}, err
	}
	profile, err := remoteProfile(dstAddr, profiles, cf)
	if err != nil {
		return transfer.Plan{}, err
	}
	return transfer.NewPlan(transfer.Upload, local, dstAddr.Path, info.IsDir(), profile), nil
}

func localPath(p string) (string, error) {
	abs, err := filepath.Abs(remote.ExpandHome(p))
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", p, err)
	}
	return abs, nil
}

// remoteProfile prefers a saved profile, then --identity, then a password prompt
func remoteProfile(addr address.Address, profiles []storage.Profile, cf *copyFlags) (storage.Profile, error) {
	if p, ok := address.FindMatchingProfile(profiles, addr.User, addr.Host, addr.Port); ok {
		slog.Debug("Using saved profile", "name", p.Name, "target", p.Key())
		return p, nil
	}

	profile := storage.Profile{Host: addr.Host, Port: addr.Port, User: addr.User}
	if cf.identity != "" {
		profile.Auth = storage.KeyFileCredential(remote.ExpandHome(cf.identity), nil)
		return profile, profile.Validate()
	}

	password, err := readPassword(fmt.Sprintf("Password for %s: ", addr.Key()))
	if err != nil {
		return storage.Profile{}, err
	}
	profile.Auth = storage.PasswordCredential(password)
	return profile, profile.Validate()
}

func runCopy(cmd *cobra.Command, engine *transfer.Engine, plan transfer.Plan) error {
	cp := newCopyProgress(cmd.ErrOrStderr())
	err := engine.Run(cmd.Context(), plan, cp.handle)
	cp.bar.Finish()

	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Copied %s with %s\n", plan.Name(), cp.tool)
	return nil
}

// copyProgress drives a byte progress bar from transfer events
type copyProgress struct {
	bar  *pb.ProgressBar
	tool string
}

func newCopyProgress(w io.Writer) *copyProgress {
	bar := pb.Full.New(0)
	bar.Set(pb.Bytes, true)
	bar.SetWriter(w)
	bar.Start()
	return &copyProgress{bar: bar}
}

func (c *copyProgress) handle(ev transfer.Event) {
	if ev.Tool != "" {
		c.tool = ev.Tool
	}
	switch ev.Kind {
	case transfer.EventProgress:
		if ev.Progress.Total > c.bar.Total() {
			c.bar.SetTotal(ev.Progress.Total)
		}
		c.bar.SetCurrent(ev.Progress.Transferred)
	case transfer.EventDone:
		if c.bar.Total() > 0 {
			c.bar.SetCurrent(c.bar.Total())
		}
	}
}

// readPassword prompts on stderr and reads without echo when stdin is a
// terminal, or a single line otherwise
func readPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	password, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

// readNewPassword asks twice and requires both answers to match
func readNewPassword(prompt string) (string, error) {
	password, err := readPassword(prompt)
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", errors.New("password is required")
	}
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return password, nil
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		return "", err
	}
	if confirm != password {
		return "", errors.New("passwords do not match")
	}
	return password, nil
}
