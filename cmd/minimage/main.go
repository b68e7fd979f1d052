package main

import "github.com/tendant/minimage/cmd/minimage/cmd"

func main() {
	cmd.Execute()
}
