package main

import (
	"os"

	accelerate "github.com/mertksk/accelerate"
	"github.com/urfave/cli/v2"
)

func versionCmd(*cli.Context) error {
	accelerate.PrintVersion(os.Stdout)
	return nil
}
