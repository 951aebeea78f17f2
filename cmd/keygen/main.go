package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/tjfontaine/autonom-console/internal/auth"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-h" || os.Args[1] == "--help") {
		fmt.Println("Usage: go run cmd/keygen/main.go [api-key]")
		fmt.Println("Generates a SHA-256 hash of the API key for use in config.yaml.")
		fmt.Println("A random key is generated when none is given.")
		os.Exit(1)
	}

	apiKey := "ac-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if len(os.Args) > 1 {
		apiKey = os.Args[1]
	}
	keyHash := auth.HashAPIKey(apiKey)

	fmt.Printf("API Key: %s\n", apiKey)
	fmt.Printf("SHA-256 Hash: %s\n", keyHash)
	fmt.Println("\nAdd this to your config.yaml:")
	fmt.Printf("server:\n")
	fmt.Printf("  api_keys:\n")
	fmt.Printf("    - key_hash: \"%s\"\n", keyHash)
	fmt.Printf("      description: \"Generated key\"\n")
}
