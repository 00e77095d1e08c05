package main

import "github.com/stackdeploy-io/stackdeploy/cmd/stackctl/cli/cmd"

func main() {
	cmd.Execute()
}
