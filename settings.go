package redo

import (
	"time"

	"github.com/spf13/viper"
)

// Settings is the externally-loaded process configuration consumed by the
// redoctl tool and available to applications that prefer file or environment
// driven setup over programmatic options.
type Settings struct {
	LogLevel string
	LogFile  string

	Store      string // "memory", "sqlite" or "redis"
	SQLitePath string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTimeout  time.Duration

	MaxRetry int
	HTTPAddr string
}

// LoadSettings reads redo.yaml (working directory or ~/.redo) and REDO_*
// environment variables. A missing config file is fine; defaults apply.
func LoadSettings() (*Settings, error) {
	v := viper.New()
	v.SetConfigName("redo")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.redo")

	v.SetDefault("loglevel", "error")
	v.SetDefault("logfile", "")
	v.SetDefault("store", "memory")
	v.SetDefault("sqlitepath", "redo.db")
	v.SetDefault("redisaddr", "localhost:6379")
	v.SetDefault("redispassword", "")
	v.SetDefault("redisdb", 0)
	v.SetDefault("redistimeout", 3*time.Second)
	v.SetDefault("maxretry", -1)
	v.SetDefault("httpaddr", "localhost:8600")

	v.SetEnvPrefix("REDO")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
