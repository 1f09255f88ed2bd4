// Command statusserver runs the fabric's stateful Status process: JWT
// issuance and validation, and chat-server selection for new logins.
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
