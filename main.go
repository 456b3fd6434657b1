package main

import "insured-core/internal/cli"

func main() {
	cli.Execute()
}
