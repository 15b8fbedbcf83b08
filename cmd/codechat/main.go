// Command codechat is the terminal client for the chat server.
package main

import (
	"fmt"
	"os"

	"codechat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
