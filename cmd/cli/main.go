// Package main is the entry point for the sqlgate CLI binary.
package main

import (
	"os"

	"sqlgate/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
