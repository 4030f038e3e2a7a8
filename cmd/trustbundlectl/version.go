package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of trustbundlectl",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("trustbundlectl version %s\n", version)
		return nil
	},
}
