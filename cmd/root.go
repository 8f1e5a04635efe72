package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/msgr/cmd/gen"
)

// The config file to load, optional
var configPath string

var RootCmd = &cobra.Command{
	Use:   "msgr",
	Short: "Exchange messages over TCP",
	Long: `msgr exchanges length-prefixed protobuf messages over TCP.

Run a server with "msgr serve" and talk to it with "msgr connect".`,
	SilenceUsage: true,
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "A TOML config file")

	RootCmd.AddCommand(ServeCmd)
	RootCmd.AddCommand(ConnectCmd)
	RootCmd.AddCommand(VersionCmd)
	RootCmd.AddCommand(gen.RootCmd)
}

// Execute runs the command named on the command line and exits non-zero if
// it fails.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
