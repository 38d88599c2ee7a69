package main

import (
	"flag"
	"os"
	"strconv"
	"time"
)

// Config holds the gateway's application configuration, loaded the same
// functional-options way as the teacher's root config.go: defaults, then
// environment, then flags, each layer overriding the last.
type Config struct {
	BindAddress    string
	MetricsAddr    string
	SerialPort     string
	BaudRate       int
	LogLevel       string
	LogFormat      string
	SimPIN         string
	DefaultTimeout time.Duration
	Cooldown       time.Duration
}

type ConfigOption func(*Config) error

func LoadConfig(opts ...ConfigOption) (*Config, error) {
	cfg := &Config{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func WithDefaults() ConfigOption {
	return func(c *Config) error {
		c.BindAddress = "0.0.0.0:8080"
		c.MetricsAddr = "0.0.0.0:9090"
		c.SerialPort = "/dev/ttyUSB0"
		c.BaudRate = 115200
		c.LogLevel = "info"
		c.LogFormat = "json"
		c.DefaultTimeout = 5 * time.Second
		c.Cooldown = 20 * time.Millisecond
		return nil
	}
}

func WithEnv() ConfigOption {
	return func(c *Config) error {
		if v := os.Getenv("BIND_ADDRESS"); v != "" {
			c.BindAddress = v
		}
		if v := os.Getenv("METRICS_ADDRESS"); v != "" {
			c.MetricsAddr = v
		}
		if v := os.Getenv("SERIAL_PORT"); v != "" {
			c.SerialPort = v
		}
		if v := os.Getenv("BAUD_RATE"); v != "" {
			if b, err := strconv.Atoi(v); err == nil {
				c.BaudRate = b
			}
		}
		if v := os.Getenv("LOG_LEVEL"); v != "" {
			c.LogLevel = v
		}
		if v := os.Getenv("LOG_FORMAT"); v != "" {
			c.LogFormat = v
		}
		if v := os.Getenv("SIM_PIN"); v != "" {
			c.SimPIN = v
		}
		if v := os.Getenv("COMMAND_TIMEOUT"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				c.DefaultTimeout = d
			}
		}
		if v := os.Getenv("COOLDOWN"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				c.Cooldown = d
			}
		}
		return nil
	}
}

func WithFlags(fSet *flag.FlagSet) ConfigOption {
	return func(c *Config) error {
		fSet.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "bind-address":
				c.BindAddress = f.Value.String()
			case "metrics-address":
				c.MetricsAddr = f.Value.String()
			case "serial-port":
				c.SerialPort = f.Value.String()
			case "baud-rate":
				if b, err := strconv.Atoi(f.Value.String()); err == nil {
					c.BaudRate = b
				}
			case "log-level":
				c.LogLevel = f.Value.String()
			case "log-format":
				c.LogFormat = f.Value.String()
			case "sim-pin":
				c.SimPIN = f.Value.String()
			case "command-timeout":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.DefaultTimeout = d
				}
			case "cooldown":
				if d, err := time.ParseDuration(f.Value.String()); err == nil {
					c.Cooldown = d
				}
			}
		})
		return nil
	}
}
