package main

import "github.com/nholik/smso/internal/cli"

func main() {
	cli.Execute()
}
