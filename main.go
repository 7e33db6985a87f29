package main

import (
	"fmt"
	"os"

	cmd "github.com/zerorag/zerorag/cmd/zerorag"
)

var version = "dev"

func main() {
	cmd.SetVersion(version)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
