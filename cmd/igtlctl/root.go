package main

import (
	"github.com/spf13/cobra"
)

const defaultConfigPath = "cmd/igtlctl/config.toml"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "igtlctl",
		Short: "OpenIGTLink transport daemon and tools",
		Long: `igtlctl receives OpenIGTLink IMAGE and TRANSFORM streams over TCP, stages the
latest message per device, and serves decoded state over an admin HTTP API.

Examples:
  igtlctl serve --config cmd/igtlctl/config.toml
  igtlctl send transform --addr 127.0.0.1:18944 --device tool --translate 10,0,0
  igtlctl status --admin http://127.0.0.1:18945 -o yaml
  igtlctl config init --output config.toml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newSendCmd(),
		newStatusCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}
