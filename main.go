package main

import "github.com/agentic-research/loadstone/cmd"

func main() {
	cmd.Execute()
}
