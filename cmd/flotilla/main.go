package main

import (
	"fmt"
	"os"

	"github.com/flotilla-dev/flotilla/cmd/root"
)

func main() {
	if err := root.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
