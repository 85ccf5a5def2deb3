package main

import (
	"github.com/Rocky43007/phoenix/cmd/phoenix-receiver/cmd"
)

// set by the compiler
var version string

func main() {
	cmd.Execute(version)
}
