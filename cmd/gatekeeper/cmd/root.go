package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper is a group-admission verification bot",
	Long: `A verification bot that gates group admission behind a challenge,
issues single-use time-limited invite links and escalates failures to a
human reviewer.`,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
