package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"task-sync/testtoken"
)

func main() {
	email := os.Getenv("TOKEN_EMAIL")
	if email == "" {
		email = "perf-user@example.com"
	}
	tok, err := testtoken.FromEnv(email)
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Print(tok)
}
