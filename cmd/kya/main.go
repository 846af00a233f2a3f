package main

import "github.com/kevinmarty69/know-your-agent/internal/cli"

func main() {
	cli.Execute()
}
