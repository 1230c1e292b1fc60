package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quietloop/vaultsync/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or initialize the configuration file",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var flagRemote string

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented default config file",
		Annotations: map[string]string{skipConfigAnnotation: "true"},
		RunE: func(_ *cobra.Command, _ []string) error {
			path := flagConfigPath
			if path == "" {
				path = config.DefaultConfigPath()
			}
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("config file already exists at %s", path)
			}

			cfg := config.DefaultConfig()
			cfg.Root = flagRoot
			cfg.Remote = flagRemote
			if err := config.Write(cfg, path); err != nil {
				return err
			}
			statusf("Wrote %s; edit it to set your vault root and remote.\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&flagRemote, "remote", "", "remote vault base URL")
	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the resolved configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc := mustCLIContext(cmd.Context())
			data, err := os.ReadFile(cc.ConfigPath)
			if os.IsNotExist(err) {
				statusf("No config file at %s; running on defaults.\n", cc.ConfigPath)
				return nil
			}
			if err != nil {
				return err
			}
			_, err = os.Stdout.Write(data)
			return err
		},
	}
}
