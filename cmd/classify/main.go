package main

import "github.com/georgeshao/o2c-triage/internal/cli"

func main() {
	cli.Execute()
}
