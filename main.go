package main

import "github.com/agentic-research/gffload/cmd"

func main() {
	cmd.Execute()
}
