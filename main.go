package main

import "teiten/internal/cli"

func main() {
	cli.Execute()
}
