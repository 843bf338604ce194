package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/mailsift/mailsift/logger"
)

func handleHashAPIKeyCommand() {
	fs := flag.NewFlagSet("hash-api-key", flag.ExitOnError)
	key := fs.String("key", "", "API key to hash (required)")
	cost := fs.Int("cost", bcrypt.DefaultCost, "bcrypt cost factor")
	fs.Usage = func() {
		fmt.Println("Usage: mailsift-admin hash-api-key --key <secret> [--cost N]")
		fmt.Println("Prints the bcrypt hash for the http_api.api_key_hash config setting.")
	}
	fs.Parse(os.Args[2:])

	if *key == "" {
		fs.Usage()
		os.Exit(1)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(*key), *cost)
	if err != nil {
		logger.Fatalf("Failed to hash API key: %v", err)
	}
	fmt.Println(string(hash))
}
