package main

import "github.com/agenthost/agenthost/cmd"

func main() {
	cmd.Execute()
}
