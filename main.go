package main

import "github.com/tbarron/phaser/cmd"

func main() {
	cmd.Execute()
}
