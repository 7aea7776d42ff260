package main

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/always-cache/apq/cache"
	cachekey "github.com/always-cache/apq/pkg/cache-key"
	"github.com/always-cache/apq/pkg/protocol"
	"github.com/always-cache/apq/pkg/registry"
	responsetransformer "github.com/always-cache/apq/pkg/response-transformer"
)

const defaultListen = ":8080"

type Config struct {
	// Address to listen on, e.g. ":8080".
	Listen string `yaml:"listen"`
	// Origin identifier used in cache keys.
	Origin        string                    `yaml:"origin"`
	Registry      registry.Config           `yaml:"registry"`
	Cache         cache.Config              `yaml:"cache"`
	DefaultMaxAge time.Duration             `yaml:"defaultMaxAge"`
	Rules         responsetransformer.Rules `yaml:"rules"`
	Contexts      ConfigContexts            `yaml:"contexts"`
	Protocol      ConfigProtocol            `yaml:"protocol"`
	Content       ConfigContent             `yaml:"content"`
}

type ConfigContexts struct {
	RolesHeader string `yaml:"rolesHeader"`
}

type ConfigProtocol struct {
	// Both default to true.
	AllowArbitrary *bool `yaml:"allowArbitrary"`
	AllowPersisted *bool `yaml:"allowPersisted"`
}

type ConfigContent struct {
	// Node database file, empty for in-memory.
	DSN string `yaml:"dsn"`
	// Create example nodes on startup.
	Seed bool `yaml:"seed"`
}

func getConfig(filename string) (Config, error) {
	config := defaultConfig()
	configBytes, err := os.ReadFile(filename)
	if err != nil {
		return config, err
	}
	if err = yaml.Unmarshal(configBytes, &config); err != nil {
		return config, err
	}
	if config.Listen == "" {
		config.Listen = defaultListen
	}
	return config, nil
}

func defaultConfig() Config {
	return Config{Listen: defaultListen}
}

func (c ConfigContexts) resolver() cachekey.ContextResolver {
	return cachekey.ContextResolver{RolesHeader: c.RolesHeader}
}

func (c ConfigProtocol) options() protocol.Options {
	opts := protocol.DefaultOptions
	if c.AllowArbitrary != nil {
		opts.AllowArbitrary = *c.AllowArbitrary
	}
	if c.AllowPersisted != nil {
		opts.AllowPersisted = *c.AllowPersisted
	}
	return opts
}
