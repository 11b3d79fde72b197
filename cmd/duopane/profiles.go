package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/quocson95/duopane/pkg/backup"
	"github.com/quocson95/duopane/pkg/s3"
	"github.com/quocson95/duopane/pkg/storage"
)

const backupTimeout = 2 * time.Minute

func newProfilesCommand(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "Manage saved connection profiles",
	}
	cmd.AddCommand(
		newProfilesListCommand(flags),
		newProfilesRemoveCommand(flags),
		newProfilesBackupCommand(flags),
		newProfilesRestoreCommand(flags),
	)
	return cmd
}

func newProfilesListCommand(flags *globalFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved profiles without their secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.open()
			if err != nil {
				return err
			}
			defer e.Close()
			return writeProfiles(cmd.OutOrStdout(), e.store.Profiles(), format)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format: table, json or yaml")
	return cmd
}

// writeProfiles renders profile summaries in the requested format
func writeProfiles(w io.Writer, profiles []storage.Profile, format string) error {
	summaries := make([]storage.ProfileSummary, 0, len(profiles))
	for _, p := range profiles {
		summaries = append(summaries, p.Summary())
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(summaries)
	case "yaml":
		data, err := yaml.Marshal(summaries)
		if err != nil {
			return fmt.Errorf("failed to marshal profiles: %w", err)
		}
		_, err = w.Write(data)
		return err
	case "table", "":
		if len(summaries) == 0 {
			_, err := fmt.Fprintln(w, "No saved profiles")
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tTARGET\tAUTH\tDEFAULT PATH")
		for _, s := range summaries {
			target := storage.ProfileKey{User: s.User, Host: s.Host, Port: s.Port}.String()
			defaultPath := s.DefaultPath
			if defaultPath == "" {
				defaultPath = "-"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Name, target, s.AuthType, defaultPath)
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

func newProfilesRemoveCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <name>",
		Aliases: []string{"remove"},
		Short:   "Delete a saved profile",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.open()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.store.DeleteProfile(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted profile %s\n", args[0])
			return nil
		},
	}
}

// s3Flags override the S3 settings stored by the TUI
type s3Flags struct {
	bucket string
	region string
}

func (f *s3Flags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.bucket, "bucket", s3.DefaultBucket, "S3 bucket holding the backups")
	cmd.Flags().StringVar(&f.region, "region", "", "S3 region (default us-east-1)")
}

func (f *s3Flags) config(settings storage.Settings) (s3.Config, error) {
	if settings.S3Host == "" || settings.S3AccessKey == "" || settings.S3SecretKey == "" {
		return s3.Config{}, errors.New("missing S3 configuration, set it up from the backup screen first")
	}
	return s3.Config{
		Endpoint:  settings.S3Host,
		AccessKey: settings.S3AccessKey,
		SecretKey: settings.S3SecretKey,
		Bucket:    f.bucket,
		Region:    f.region,
	}, nil
}

func newProfilesBackupCommand(flags *globalFlags) *cobra.Command {
	var sf s3Flags

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Encrypt all profiles and upload them to S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.open()
			if err != nil {
				return err
			}
			defer e.Close()

			cfg, err := sf.config(e.store.Get())
			if err != nil {
				return err
			}
			password, err := readNewPassword("Backup password: ")
			if err != nil {
				return err
			}

			profiles := e.store.Profiles()
			blob, err := backup.Seal(profiles, password, backup.DefaultKDF)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), backupTimeout)
			defer cancel()
			client, err := s3.NewClient(ctx, cfg)
			if err != nil {
				return fmt.Errorf("S3 connection failed: %w", err)
			}
			key, err := client.Upload(ctx, blob)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backed up %d profiles to %s\n", len(profiles), key)
			return nil
		},
	}
	sf.register(cmd)
	return cmd
}

func newProfilesRestoreCommand(flags *globalFlags) *cobra.Command {
	var (
		sf  s3Flags
		key string
	)

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Download a backup from S3 and replace the saved profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := flags.open()
			if err != nil {
				return err
			}
			defer e.Close()

			cfg, err := sf.config(e.store.Get())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), backupTimeout)
			defer cancel()
			client, err := s3.NewClient(ctx, cfg)
			if err != nil {
				return fmt.Errorf("S3 connection failed: %w", err)
			}

			var blob []byte
			if key == "" {
				key, blob, err = client.Latest(ctx)
			} else {
				blob, err = client.Download(ctx, key)
			}
			if err != nil {
				return err
			}

			env, err := backup.Inspect(blob)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restoring %s: %d profiles, created %s\n", key, env.Profiles, env.Created.Local().Format(time.DateTime))

			password, err := readPassword("Backup password: ")
			if err != nil {
				return err
			}
			profiles, err := backup.Open(blob, password)
			if err != nil {
				return err
			}
			if err := e.store.ReplaceProfiles(profiles); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Restored %d profiles\n", len(profiles))
			return nil
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&key, "key", "", "object key to restore (default latest)")
	return cmd
}
