package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MailEnv holds the mailer settings read from the environment.
type MailEnv struct {
	Service  string
	Host     string
	Port     int
	Secure   bool
	User     string
	Password string
	From     string
	AppName  string
	Timeout  time.Duration
}

// mailKeys maps viper keys to their environment variables.
var mailKeys = map[string]string{
	"service":  "MAIL_SERVICE",
	"host":     "MAIL_HOST",
	"port":     "MAIL_PORT",
	"secure":   "MAIL_SECURE",
	"user":     "MAIL_USER",
	"password": "MAIL_PASSWORD",
	"from":     "MAIL_FROM",
	"app_name": "APP_NAME",
	"timeout":  "MAIL_TIMEOUT",
}

// LoadMailEnv reads MAIL_* and APP_NAME. Every value is optional; the
// mailer reports an unusable combination on its first send.
func LoadMailEnv() (MailEnv, error) {
	v := viper.New()
	for key, env := range mailKeys {
		if err := v.BindEnv(key, env); err != nil {
			return MailEnv{}, fmt.Errorf("binding %s: %w", env, err)
		}
	}
	v.SetDefault("port", 465)
	v.SetDefault("secure", true)
	v.SetDefault("app_name", "trackerd")
	v.SetDefault("timeout", "15s")

	timeout, err := ParseDurationOrDefault("MAIL_TIMEOUT", v.GetString("timeout"), 15*time.Second)
	if err != nil {
		return MailEnv{}, err
	}

	env := MailEnv{
		Service:  strings.TrimSpace(v.GetString("service")),
		Host:     strings.TrimSpace(v.GetString("host")),
		Port:     v.GetInt("port"),
		Secure:   v.GetBool("secure"),
		User:     strings.TrimSpace(v.GetString("user")),
		Password: v.GetString("password"),
		From:     strings.TrimSpace(v.GetString("from")),
		AppName:  strings.TrimSpace(v.GetString("app_name")),
		Timeout:  timeout,
	}
	if env.From == "" {
		env.From = env.User
	}
	return env, nil
}

// Configured reports whether any transport setting is present.
func (e MailEnv) Configured() bool {
	return e.Service != "" || e.Host != ""
}
