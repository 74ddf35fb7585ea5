package main

import "moverwatch/internal/cli"

func main() {
	cli.Execute()
}
