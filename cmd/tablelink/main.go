package main

import "github.com/marshallshelly/tablelink/cmd/tablelink/commands"

func main() {
	commands.Execute()
}
