// Package statld is the command-line front end for the linker: it reads
// input object files from disk, runs the link package's pipeline, and
// stages the resulting executable.
package statld

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/smallld/smallld/link"
)

var (
	inputPaths []string
	outputPath string
)

// RootCmd is statld's single command: there are no subcommands, just
// input objects in and an executable out.
var RootCmd = &cobra.Command{
	Use:   "statld",
	Short: "A minimal static linker for x86-64 ELF relocatable objects",
	Long: `statld links one or more x86-64 ELF64 relocatable object files (ET_REL)
into a single statically-linked ELF64 executable (ET_EXEC).

It supports exactly R_X86_64_PC32 and R_X86_64_PLT32 relocations and
requires a defined global symbol named _start as the entry point.`,
	RunE: runLink,
}

func init() {
	RootCmd.Flags().StringArrayVarP(&inputPaths, "input", "i", nil, "input object file (repeatable)")
	RootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "output executable path")
	RootCmd.MarkFlagRequired("input")
	RootCmd.MarkFlagRequired("output")
}

func runLink(cmd *cobra.Command, args []string) error {
	buffers := make([][]byte, len(inputPaths))
	for i, p := range inputPaths {
		buf, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", p, err)
		}
		buffers[i] = buf
	}

	if err := link.Run(buffers, outputPath); err != nil {
		return fmt.Errorf("linking: %w", err)
	}
	return nil
}

// Execute runs RootCmd, exiting the process with status 1 on failure,
// mirroring the pack's standard cobra entry point.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
