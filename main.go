// Package main is the entry point for the otrace trace decoding daemon and CLI.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/otrace/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
