package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/logflow/dfgflow/pkg/config"
	"github.com/logflow/dfgflow/pkg/errors"
)

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
}

var configInitCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write the resolved configuration as YAML",
	Long: `Write the configuration dfgflow would run with, after layering config
files, DFGFLOW_* environment variables and flags, to a YAML file.
The default path is the project file ./.dfgflow.yaml.

Examples:
  dfgflow config init
  dfgflow config init ~/.dfgflow/config.yaml --engine duckdb --workers 8`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigInit,
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := ".dfgflow.yaml"
	if len(args) == 1 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !configForce {
		return errors.New(errors.CodeWriteFailed, "config file already exists, use --force to overwrite").
			WithContext("path", path)
	}

	m := config.NewManager()
	if err := m.Load(configFile); err != nil {
		return err
	}
	applyFlags(cmd, m.Get())
	if err := m.Get().Validate(); err != nil {
		return err
	}
	if err := m.Write(path); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
