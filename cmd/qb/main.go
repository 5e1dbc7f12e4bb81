// Package main is the entry point for the qb CLI.
package main

import "github.com/timewarp/quickbooks-cli/internal/cli"

func main() {
	cli.Execute()
}
