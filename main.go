package main

import "github.com/kiesman99/dpsconvert/cmd"

func main() {
	cmd.Execute()
}
