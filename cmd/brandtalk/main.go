package main

import "github.com/yhkim-dev/brandtalk/internal/cmd"

func main() {
	cmd.Execute()
}
