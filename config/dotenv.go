package config

import "github.com/joho/godotenv"

// loadDotEnv loads a .env file from the working directory when present.
// A missing file is not an error; it just means configuration comes
// entirely from the real process environment.
func loadDotEnv() {
	_ = godotenv.Load()
}
