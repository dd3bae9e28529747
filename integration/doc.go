// Package integration contains the end-to-end smoke tests for the phaser
// CLI. The tests build the real binary, scaffold a project with "phaser
// init", and drive the inspection subcommands against it. The run loop
// itself is covered by the orchestrator package tests; these tests catch
// wiring mistakes between the CLI and the packages behind it.
//
// Run with: go test ./integration/... -v -timeout 120s
package integration
