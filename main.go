package main

import "regsho-monitor/internal/cli"

func main() {
	cli.Execute()
}
