package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	yaml "sigs.k8s.io/yaml/goyaml.v3"
)

const (
	// EnvVar is the env var that contains the path to the config file
	EnvVar = "SERIALRUND_CONFIG"
	// DirName is the name of the folder where the config file is searched, in the user's home directory and in /etc
	DirName = "serialrund"
)

type LoadConfigOpts struct {
	EnvVar  string
	DirName string
}

type ConfigDest interface {
	SetLoadedConfigPath(path string)
}

// Load returns the configuration for serialrund, with defaults set and validated.
func Load() (*Config, error) {
	cfg := &Config{}
	err := LoadConfig(cfg, LoadConfigOpts{
		EnvVar:  EnvVar,
		DirName: DirName,
	})
	if err != nil {
		return nil, err
	}

	err = prepare(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile loads the configuration from the file at filePath, with defaults set and validated.
// It's used to re-load the configuration after it changed.
func LoadFile(filePath string) (*Config, error) {
	cfg := &Config{}
	err := loadConfigFile(cfg, filePath)
	if err != nil {
		return nil, NewConfigError(err, "Error loading config file")
	}
	cfg.SetLoadedConfigPath(filePath)

	err = prepare(cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func prepare(cfg *Config) error {
	err := cfg.SetDefaults()
	if err != nil {
		return err
	}
	return cfg.Validate()
}

// LoadConfig loads the configuration into dst.
// The path is read from the env var opts.EnvVar; if that's empty, the file "config.yaml" (or "config.yml") is searched in the current folder, in "~/.<DirName>", and in "/etc/<DirName>".
func LoadConfig(dst ConfigDest, opts LoadConfigOpts) error {
	// Get the path to the config.yaml
	// First, try with the env var
	configFile := os.Getenv(opts.EnvVar)
	if configFile != "" {
		if !fileExists(configFile) {
			return NewConfigError("Environmental variable "+opts.EnvVar+" points to a file that does not exist", "Error loading config file")
		}
	} else {
		// Look in the default paths
		searchPaths := []string{".", "~/." + opts.DirName, "/etc/" + opts.DirName}

		configFile = findConfigFile("config.yaml", searchPaths...)
		if configFile == "" {
			configFile = findConfigFile("config.yml", searchPaths...)
		}

		if configFile == "" {
			return NewConfigError("Could not find a configuration file config.yaml in the current folder, '~/."+opts.DirName+"', or '/etc/"+opts.DirName+"'", "Error loading config file")
		}
	}

	err := loadConfigFile(dst, configFile)
	if err != nil {
		return NewConfigError(err, "Error loading config file")
	}
	dst.SetLoadedConfigPath(configFile)

	return nil
}

// Loads the configuration from a file.
// "dst" must be a pointer to a struct.
func loadConfigFile(dst any, filePath string) error {
	f, err := os.Open(filePath) //nolint:gosec
	if err != nil {
		return fmt.Errorf("failed to open config file '%s': %w", filePath, err)
	}
	defer f.Close() //nolint:errcheck

	yamlDec := yaml.NewDecoder(f)
	yamlDec.KnownFields(true)
	err = yamlDec.Decode(dst)
	if err != nil {
		return fmt.Errorf("failed to decode config file '%s': %w", filePath, err)
	}

	return nil
}

func findConfigFile(fileName string, searchPaths ...string) string {
	for _, path := range searchPaths {
		if path == "" {
			continue
		}

		p, _ := homedir.Expand(path)
		if p != "" {
			path = p
		}

		search := filepath.Join(path, fileName)
		if fileExists(search) {
			return search
		}
	}

	return ""
}

// fileExists returns true if path exists and it's a regular file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
