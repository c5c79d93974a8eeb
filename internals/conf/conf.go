package conf

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"

	z "github.com/Oudwins/zog"
)

type Config struct {
	Version string       `json:"-"`
	Server  ServerConfig `json:"server"`
	Output  OutputConfig `json:"output"`
	Agent   AgentConfig  `json:"agent"`
}

type ServerConfig struct {
	DataDir string `json:"data_dir"`
}

type OutputConfig struct {
	Dir string `json:"dir"`
}

type AgentConfig struct {
	Binary string `json:"binary"`
	Model  string `json:"model"`
}

var serverSchema = z.Struct(z.Shape{
	"DataDir": z.String().Default("~/.researchd").Transform(expandPathTransform),
})

var outputSchema = z.Struct(z.Shape{
	"Dir": z.String().Default("~/.researchd/output").Transform(expandPathTransform),
})

var agentSchema = z.Struct(z.Shape{
	"Binary": z.String().Default("claude"),
	"Model":  z.String().Default("claude-sonnet-4-5"),
})

var ConfigSchema = z.Struct(z.Shape{
	"server": serverSchema,
	"output": outputSchema,
	"agent":  agentSchema,
})

var config *Config

func GetConfig() *Config {
	if config == nil {
		defaults := &Config{}
		if err := ConfigSchema.Parse(map[string]any{}, defaults); err != nil {
			log.Fatal("[Researchd] Failed to parse config", err)
		}
		defaults.Version = "0.1.0"

		configPath := filepath.Join(filepath.Clean(defaults.Server.DataDir), "researchd.json")
		data, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				config = defaults
				return config
			}
			log.Fatal("[Researchd] Failed to read config file", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			config = defaults
			return config
		}

		var payload map[string]any
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Fatal("[Researchd] Failed to parse config file", err)
		}
		parsed := &Config{}
		if err := ConfigSchema.Parse(payload, parsed); err != nil {
			log.Fatal("[Researchd] Failed to parse config", err)
		}
		parsed.Version = defaults.Version
		config = parsed
	}

	return config
}

func expandPathTransform(ptr *string, c z.Ctx) error {
	expanded, err := ExpandPath(*ptr)
	*ptr = expanded
	return err
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return path, nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}
