package main

import "github.com/qascout/qascout/internal/cli"

func main() {
	cli.Execute()
}
