package config

import (
	"fmt"
	"os"
	"time"

	"go.yaml.in/yaml/v3"
)

const TemplateFile = "config.yaml"

func GenerateTemplateConfig(writeToFile bool) (Config, error) {
	cfg := Config{
		BindAddress: "127.0.0.1",
		Port:        8899,

		LogLevel: "info",

		APIServer: "127.0.0.1:9090",

		DialTimeout: 10 * time.Second,
		IdleTimeout: 90 * time.Second,

		RulesHeader: "x-rulegate-rules",

		Rules: []Rule{
			{
				Type:       RuleTypeDomainSuffix,
				MatchValue: "example.com",
				Directive:  "urlParams",
				Value:      `{"utm_source": "rulegate"}`,
			},
			{
				Type:       RuleTypeURLRegex,
				MatchValue: `^https?://api\.example\.com/`,
				Directive:  "enable",
				Value:      "gzip",
			},
		},

		Plugins: []Plugin{
			{
				Name: "replace",
				Pipe: &Pipe{
					Directions: []string{"resRead"},
					Regex:      "Hello",
					Replace:    "Hi",
				},
			},
		},
	}

	if writeToFile {
		data, err := yaml.Marshal(&cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to marshal template config to YAML: %w", err)
		}
		if err := os.WriteFile(TemplateFile, data, 0644); err != nil {
			return Config{}, fmt.Errorf("failed to write template config to file: %w", err)
		}
	}
	return cfg, nil
}
