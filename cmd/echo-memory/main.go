package main

import (
	"os"

	"github.com/Beereal295/echo-memory/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
