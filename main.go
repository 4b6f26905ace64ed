// Command sudai is the court decision crawler CLI.
package main

import "github.com/havaian/sud-ai/cmd"

func main() {
	cmd.Execute()
}
