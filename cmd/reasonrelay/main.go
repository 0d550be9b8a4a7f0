package main

import (
	"os"

	"github.com/reasonrelay/reasonrelay/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
