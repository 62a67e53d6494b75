package main

import (
	"os"

	"github.com/blackmichael/listing-lifecycle/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
