// arcfeed follows Arc chat rooms from the terminal.
//
//	arcfeed watch org/room
//	arcfeed send org/room hello there
//	arcfeed media org/room ./diagram.png
package main

import (
	"os"

	"arcfeed/cmd/internal/cli"
)

func main() {
	os.Exit(cli.Main(os.Args[1:]))
}
