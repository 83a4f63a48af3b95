package main

import (
	"os"

	"github.com/go-go-golems/sqlchat/cmd/sqlchat/cmds"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root, err := cmds.NewRootCommand(version)
	cobra.CheckErr(err)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
