// Command chatserver runs one chat-server process: the long-lived
// authenticated TCP session fabric for a pool of chat servers behind a
// single Status process.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := Run(); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
