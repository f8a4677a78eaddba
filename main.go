package main

import (
	"fmt"
	"os"

	"github.com/Laza223/axxen-scraper-sub001/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "✗", err)
		os.Exit(1)
	}
}
