package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// Prints a random value suitable for JWT_SECRET.
func main() {
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		panic(err)
	}

	fmt.Printf("JWT_SECRET=%s\n", base64.RawURLEncoding.EncodeToString(secret))
}
