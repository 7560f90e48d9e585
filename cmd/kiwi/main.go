package main

import (
	"os"

	"evalgo.org/kiwi/internal/commands"
	"evalgo.org/kiwi/internal/version"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime
	version.GitCommit = GitCommit

	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
