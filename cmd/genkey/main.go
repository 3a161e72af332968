// genkey prints a random TOKEN_ENCRYPTION_KEY and JWT_SECRET.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

func main() {
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}

	secret := make([]byte, 48)
	if _, err := rand.Read(secret); err != nil {
		panic(err)
	}

	fmt.Printf("TOKEN_ENCRYPTION_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
	fmt.Printf("JWT_SECRET=%s\n", base64.RawURLEncoding.EncodeToString(secret))
}
