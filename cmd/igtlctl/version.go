package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danmuck/igtlctl/internal/admin"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the igtlctl version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "igtlctl version %s\n", admin.Version)
			return err
		},
	}
}
