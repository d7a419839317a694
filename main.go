package main

import (
	"os"

	"github.com/VladMinzatu/binsize/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
