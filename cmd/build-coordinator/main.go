package main

import "github.com/LENAX/build-coordinator/pkg/cli/cmd"

func main() {
	cmd.Execute()
}
