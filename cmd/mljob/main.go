// Package main is the entry point for the mljob CLI.
// mljob submits directories of Python code as Snowflake ML jobs and watches them.
package main

import (
	"os"

	"github.com/aiqojo/sf-ml-test/cmd/mljob/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
