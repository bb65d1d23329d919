// Package config loads the connection bundle every brandtalk component
// needs: server URL, brand identity, local user, and the bearer token.
package config

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

var validate = validator.New()

// Config is the recognized option bundle. No other option affects
// behavior.
type Config struct {
	// ServerURL is the chat server's base URL, without a trailing slash.
	ServerURL string `mapstructure:"server_url" validate:"required,url"`
	// BrandID scopes every REST path and the brand notification topic.
	BrandID string `mapstructure:"brand_id" validate:"required"`
	// BrandName is display-only.
	BrandName string `mapstructure:"brand_name"`
	// UserID identifies the local user; own activity events are ignored.
	// When empty it is recovered from the token's subject claim.
	UserID string `mapstructure:"user_id" validate:"required"`
	// Token is the opaque bearer token supplied by the embedding
	// application. Issuance is not this client's concern.
	Token string `mapstructure:"token" validate:"required"`
	// CacheFile, when set, enables the local sqlite timeline cache.
	CacheFile string `mapstructure:"cache_file"`

	valid bool
}

// Headers builds the connection headers sent on every request and on the
// socket handshake.
func (c *Config) Headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.Token)
	return h
}

// Load reads the configuration from config.yaml and environment
// variables. Invalid values are deferred to Validate.
func Load() (*Config, error) {
	config := &Config{}
	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetConfigType("yaml")
	v.SetEnvPrefix("brandtalk")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for _, key := range []string{"server_url", "brand_id", "brand_name", "user_id", "token", "cache_file"} {
		v.SetDefault(key, "")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; the environment may carry everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&config,
		viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
			mapstructure.TextUnmarshallerHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		),
	); err != nil {
		// defer error to validation step
		return config, nil
	}

	if config.UserID == "" && config.Token != "" {
		if subject, err := TokenSubject(config.Token); err == nil {
			config.UserID = subject
		}
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.valid {
		return nil
	}
	if err := validate.Struct(c); err != nil {
		return err
	}
	c.valid = true
	return nil
}

// FormatValidationErrors renders validator errors one per line for CLI
// output.
func FormatValidationErrors(err error) string {
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	var sb strings.Builder
	for _, fe := range errs {
		sb.WriteString(fmt.Sprintf("%s failed on %q\n", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return sb.String()
}
