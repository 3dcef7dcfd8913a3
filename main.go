package main

import (
	"os"

	"github.com/conneroisu/sojourn/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
