package main

import (
	"os"

	"github.com/0MATRIX0/agent-connect/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
