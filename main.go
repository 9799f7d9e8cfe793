package main

import "github.com/bwads001/claude-conversation-analyzer/cmd"

func main() {
	cmd.Execute()
}
