package main

import (
	"github.com/teemow/edulab/cmd"
)

// version will be set by goreleaser during build
var version = "dev"

func main() {
	cmd.SetVersion(version)

	cmd.Execute()
}
