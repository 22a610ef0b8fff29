package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "driftlist",
	Short:         "Local-first collaborative to-do lists over an automerge sync relay",
	SilenceUsage:  true,
	SilenceErrors: true,
}
