// Command admintoken prints the bcrypt hash to store in
// ADMIN_TOKEN_HASH for a given admin token.
package main

import (
	"fmt"
	"log"
	"os"

	"github.com/readerly/readerly/internal/shared"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: admintoken <token>")
		os.Exit(2)
	}
	hash, err := shared.HashAdminToken(os.Args[1])
	if err != nil {
		log.Fatalf("hash token: %v", err)
	}
	fmt.Println(hash)
}
