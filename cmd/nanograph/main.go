package main

import "nanograph/internal/commands"

func main() {
	commands.Execute()
}
