package gen

import (
	"github.com/spf13/cobra"
)

// RootCmd groups the generators for files that ship alongside the binary.
var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate files that ship with msgr",
	Long:  `Generate files that ship with msgr, such as its man pages`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
