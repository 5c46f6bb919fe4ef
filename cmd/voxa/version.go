package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the voxa version",
	Run: func(_ *cobra.Command, _ []string) {
		fmt.Println("voxa " + version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
