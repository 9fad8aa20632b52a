package main

import (
	"github.com/irun2themoney/autoppia-miner/cmd"
)

// main is the entry point for the miner.
func main() {
	cmd.Execute()
}
