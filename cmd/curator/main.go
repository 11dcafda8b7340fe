package main

import "github.com/hxann/curator/internal/cli"

func main() {
	cli.Execute()
}
