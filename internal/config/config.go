package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Env  string `yaml:"env"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Provisioner struct {
		Backend       string   `yaml:"backend"`
		Region        string   `yaml:"region"`
		Cluster       string   `yaml:"cluster"`
		Subnets       []string `yaml:"subnets"`
		SecurityGroup string   `yaml:"security_group"`
		ServiceDomain string   `yaml:"service_domain"`
	} `yaml:"provisioner"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Deploy struct {
		MaxConcurrentSteps int           `yaml:"max_concurrent_steps"`
		SecretTimeout      time.Duration `yaml:"secret_timeout"`
		DatabaseTimeout    time.Duration `yaml:"database_timeout"`
		GraphTimeout       time.Duration `yaml:"graph_timeout"`
		AppServiceTimeout  time.Duration `yaml:"app_service_timeout"`
		HealthCheckTimeout time.Duration `yaml:"health_check_timeout"`
	} `yaml:"deploy"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnv()
	return &cfg, nil
}

// Default returns a config suitable for local development without a file.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Env == "" {
		c.Server.Env = "development"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "./stackdeploy.db"
	}
	if c.Provisioner.Backend == "" {
		c.Provisioner.Backend = "sim"
	}
	if c.Provisioner.Region == "" {
		c.Provisioner.Region = "us-east-1"
	}
	if c.Deploy.MaxConcurrentSteps == 0 {
		c.Deploy.MaxConcurrentSteps = 4
	}
	if c.Deploy.SecretTimeout == 0 {
		c.Deploy.SecretTimeout = 30 * time.Second
	}
	if c.Deploy.DatabaseTimeout == 0 {
		c.Deploy.DatabaseTimeout = 10 * time.Minute
	}
	if c.Deploy.GraphTimeout == 0 {
		c.Deploy.GraphTimeout = 5 * time.Minute
	}
	if c.Deploy.AppServiceTimeout == 0 {
		c.Deploy.AppServiceTimeout = 5 * time.Minute
	}
	if c.Deploy.HealthCheckTimeout == 0 {
		c.Deploy.HealthCheckTimeout = 2 * time.Minute
	}
}

func (c *Config) applyEnv() {
	if v := os.Getenv("STACKDEPLOY_ENV"); v != "" {
		c.Server.Env = v
	}
	if v := os.Getenv("STACKDEPLOY_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv("STACKDEPLOY_NATS_URL"); v != "" {
		c.NATS.URL = v
	}
	if v := os.Getenv("STACKDEPLOY_BACKEND"); v != "" {
		c.Provisioner.Backend = v
	}
}
