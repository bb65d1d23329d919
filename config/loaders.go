package config

import (
	"os"

	"github.com/joho/godotenv"
)

// EnvLoader loads the configuration from BRANDTALK_* environment
// variables, reading a .env file first when one exists.
type EnvLoader struct {
}

func (l *EnvLoader) Load() (*Config, error) {
	// A missing .env file is not an error; the variables may already be
	// exported.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	c := &Config{
		ServerURL: getEnv("BRANDTALK_SERVER_URL"),
		BrandID:   getEnv("BRANDTALK_BRAND_ID"),
		BrandName: getEnv("BRANDTALK_BRAND_NAME"),
		UserID:    getEnv("BRANDTALK_USER_ID"),
		Token:     getEnv("BRANDTALK_TOKEN"),
		CacheFile: getEnv("BRANDTALK_CACHE_FILE"),
	}

	if c.UserID == "" && c.Token != "" {
		if subject, err := TokenSubject(c.Token); err == nil {
			c.UserID = subject
		}
	}
	return c, nil
}

func getEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return ""
	}
	return value
}
