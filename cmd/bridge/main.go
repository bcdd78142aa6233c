package main

import (
	"os"

	"github.com/ggonzalez94/sideshift-bridge/internal/app"
	"github.com/joho/godotenv"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()
	runner := app.NewRunner()
	os.Exit(runner.Run(os.Args[1:]))
}
