package main

import (
	"os"

	"grimm.is/tether/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
