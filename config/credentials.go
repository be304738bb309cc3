package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/maildigest/inbox-digest/model"
)

// ConfigError marks a fatal problem with the credentials file. It aborts
// the run before any network activity.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("credentials file %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadCredentials reads the mailbox user and password from a YAML file.
// The file must contain the keys "user" and "password".
func LoadCredentials(path string) (model.Credentials, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return model.Credentials{}, &ConfigError{Path: path, Err: err}
	}

	creds := model.Credentials{
		User:     strings.TrimSpace(v.GetString("user")),
		Password: v.GetString("password"),
	}

	if creds.User == "" {
		return model.Credentials{}, &ConfigError{Path: path, Err: errors.New(`missing "user" key`)}
	}
	if creds.Password == "" {
		return model.Credentials{}, &ConfigError{Path: path, Err: errors.New(`missing "password" key`)}
	}

	return creds, nil
}
