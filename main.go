package main

import "github.com/pythagorakase/nexus-sub005/cmd"

func main() {
	cmd.Execute()
}
