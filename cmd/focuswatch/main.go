package main

import "github.com/focuswatch/focuswatch/cmd/focuswatch/commands"

func main() {
	commands.Execute()
}
