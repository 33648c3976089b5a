// Package main provides the entry point for the gitinspect CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/gitinspect/cmd/gitinspect/commands"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gitinspect",
		Short: "Statistical authorship analysis of git repositories",
		Long: `gitinspect attributes the surviving lines of a repository to their authors
and summarizes each author's commit history.

Commands:
  blame     Per-author rows, stability, age and comment share`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewBlameCommand())
	rootCmd.AddCommand(commands.NewVersionCommand())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
