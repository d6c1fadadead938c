package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/micahrl/fhirsync/internal/config"
)

func newInitCmd(stdout io.Writer) *cobra.Command {
	var (
		endpoint string
		output   string
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write an example config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data := config.BuildExample(endpoint)
			if output == "-" {
				_, err := stdout.Write(data)
				return err
			}
			if _, err := os.Stat(output); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", output)
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return fmt.Errorf("writing %s: %w", output, err)
			}
			cmd.Printf("Wrote %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "endpoint URL to write into the config")
	cmd.Flags().StringVarP(&output, "output", "o", "fhirsync.toml", "file to write, or - for stdout")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
