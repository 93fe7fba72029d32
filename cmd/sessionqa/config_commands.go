package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"sessionqa/internal/config"
)

const redacted = "<redacted>"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create, inspect and validate the configuration file",
	}
	cmd.AddCommand(newConfigInitCommand(), newConfigShowCommand(ctx), newConfigValidateCommand(ctx))
	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented sample configuration",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := initTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				switch _, err := os.Stat(target); {
				case err == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := config.CreateSample(target); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\n"+
				"Set analysis.command and download.folder_helper before running the daemon.\n", target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing file")
	return cmd
}

func initTarget(flag string) (string, error) {
	if flag == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return path, nil
	}
	path, err := config.ExpandPath(flag)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return path, nil
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			data, err := toml.Marshal(redactConfig(*cfg))
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			out := cmd.OutOrStdout()
			if ctx.configPath != "" {
				fmt.Fprintf(out, "# loaded from %s\n", ctx.configPath)
			}
			_, err = out.Write(data)
			return err
		},
	}
}

func redactConfig(cfg config.Config) config.Config {
	for _, secret := range []*string{&cfg.Paths.APIToken, &cfg.Store.RedisURL} {
		if *secret != "" {
			*secret = redacted
		}
	}
	return cfg
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and report problems",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, resolved, exists, err := config.Load(flagValue(ctx.configFlag))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", resolved)
			if !exists {
				fmt.Fprintln(out, "File not found; built-in defaults were validated")
			}
			fmt.Fprintf(out, "Store: %s, download workers: %d, analysis workers: %d\n",
				cfg.Store.Backend, cfg.Download.MaxConcurrent, cfg.Analysis.MaxConcurrent)
			fmt.Fprintln(out, "Configuration valid")
			return nil
		},
	}
}
