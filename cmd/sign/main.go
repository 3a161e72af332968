// sign mints a bearer token for local testing of the backend and socket.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/eldtechnologies/nimbleai/internal/auth"
)

func main() {
	_ = godotenv.Load()

	userID := flag.String("user", "", "User ID (token subject)")
	email := flag.String("email", "", "Optional email claim")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	flag.Parse()

	secret := os.Getenv("JWT_SECRET")
	if *userID == "" || secret == "" {
		fmt.Fprintln(os.Stderr, "Usage: JWT_SECRET=... sign -user <user-id> [-email <email>] [-ttl 1h]")
		os.Exit(1)
	}

	token, err := auth.NewVerifier(secret).Issue(*userID, *email, *ttl)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to sign token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
