package main

import "github.com/defi-org-code/ton-validator-reporter/cmd"

func main() {
	cmd.Execute()
}
