package main

import (
	"os"

	"github.com/statforge/statstream/internal/statctl"
)

func main() {
	if err := statctl.Execute(); err != nil {
		os.Exit(1)
	}
}
