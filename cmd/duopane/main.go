package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/quocson95/duopane/pkg/config"
	"github.com/quocson95/duopane/pkg/logutil"
	"github.com/quocson95/duopane/pkg/storage"
	"github.com/quocson95/duopane/pkg/tui"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:   "duopane [dir]",
		Short: "Dual-panel file manager for local and SSH/SFTP directories",
		Long: `duopane shows two directory panels side by side. Either panel can be
attached to a remote host over SFTP, and files are copied between the
panels with rsync or scp.`,
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(flags, args)
		},
	}

	rootCmd.PersistentFlags().StringVar(&flags.dataDir, "data-dir", "", "directory holding settings and debug.log (default ~/.duopane)")
	rootCmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn or error")

	rootCmd.AddCommand(newProfilesCommand(flags))
	rootCmd.AddCommand(newCopyCommand(flags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// globalFlags are shared by every subcommand
type globalFlags struct {
	dataDir  string
	logLevel string
}

// environment is everything a command needs once flags are parsed
type environment struct {
	env   config.Env
	store *storage.SettingsStore
	log   io.Closer
}

func (e *environment) Close() {
	if e.log != nil {
		e.log.Close()
	}
}

// open resolves the data directory, starts file logging and loads settings
func (f *globalFlags) open() (*environment, error) {
	env, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	dataDir, err := config.ResolveDataDir(f.dataDir, env)
	if err != nil {
		return nil, err
	}

	levelName := f.logLevel
	if levelName == "" {
		levelName = env.LogLevel
	}
	level, err := logutil.ParseLevel(levelName)
	if err != nil {
		return nil, err
	}

	closer, err := logutil.Setup(dataDir, level)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewSettingsStore(dataDir)
	if err != nil {
		closer.Close()
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	return &environment{env: env, store: store, log: closer}, nil
}

func runTUI(flags *globalFlags, args []string) error {
	e, err := flags.open()
	if err != nil {
		return err
	}
	defer e.Close()

	startDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	if len(args) == 1 {
		info, err := os.Stat(args[0])
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%s is not a directory", args[0])
		}
		startDir = args[0]
	}

	appModel := tui.NewAppModel(e.store, startDir)
	defer appModel.Close()
	if e.env.DisableRsync {
		appModel.ForceSCP()
	}

	p := tea.NewProgram(appModel, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		slog.Error("Error running program", "error", err)
		return err
	}
	return nil
}
