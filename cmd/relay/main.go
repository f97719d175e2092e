package main

import (
	"log"

	"github.com/joho/godotenv"

	"relay/cmd/internal/app"
)

func main() {
	// Local dev convenience; absent .env files are not an error.
	_ = godotenv.Load()

	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
