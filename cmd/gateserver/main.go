// Command gateserver runs the fabric's stateless HTTP gateway: account
// registration, email verification, login, and password reset, all backed
// by the shared MySQL users table and Redis for short-lived codes.
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
