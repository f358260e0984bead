package main

import (
	"os"

	"github.com/swarmd/swarmd/cmd"
)

func main() {
	if err := cmd.CmdSwarmd.Execute(); err != nil {
		os.Exit(1)
	}
}
