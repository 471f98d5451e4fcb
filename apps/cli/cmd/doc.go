// Package cmd implements the vptest CLI commands using Cobra.
//
// Available commands:
//   - run: Run the tests of a file, or the test under --line
//   - shell: Interactive loop accepting editor-style subcommands
//   - list: Show the tests a file or package contains
//   - history: Show recorded runs
//   - version: Show version information
//
// The hidden worker command is the entry point of the child process the
// supervisor spawns for every run.
package cmd
