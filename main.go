package main

import "github.com/agentic-research/flowgate/cmd"

func main() {
	cmd.Execute()
}
