package config

import "github.com/joho/godotenv"

// LoadEnv loads a .env file if present, so local runs can override config
// values (viper binds environment variables like DATABASE_PASSWORD).
// Missing files are fine; real deployments set variables directly.
func LoadEnv() {
	_ = godotenv.Load()
}
