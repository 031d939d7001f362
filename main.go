package main

import "github.com/sw33tLie/searchtrack/cmd"

func main() {
	cmd.Execute()
}
