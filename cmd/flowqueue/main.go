package main

import (
	"github.com/taskdeck/flowqueue/pkg/cli/cmd"
)

func main() {
	cmd.Execute()
}
