package main

import "avaneesh/shotxfer/cmd/shotxfer/commands"

func main() {
	commands.Execute()
}
