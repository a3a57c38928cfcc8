package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hupe1980/adadisk/config"
)

func newInitCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the defaults",
		Long:  `Write a commented configuration file with every default spelled out. An existing file is left untouched.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			written, err := config.WriteDefaultTemplate(rf.configPath)
			if err != nil {
				return err
			}
			if written {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", rf.configPath)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", rf.configPath)
			}
			return nil
		},
	}
}
