// The main package for the vision2struct command-line client.
package main

import "github.com/JakeFAU/vision2struct/cmd"

func main() {
	cmd.Execute()
}
