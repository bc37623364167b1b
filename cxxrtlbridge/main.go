// Package main is the entry point of the cxxrtlbridge command.
package main

import "github.com/sarchlab/cxxrtlbridge/cxxrtlbridge/cmd"

func main() {
	cmd.Execute()
}
