package main

import "github.com/bryanchriswhite/RegionPiP/cmd/regionpip/commands"

func main() {
	commands.Execute()
}
