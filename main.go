package main

import "github.com/aceteam-ai/aiworker/cmd"

func main() {
	cmd.Execute()
}
