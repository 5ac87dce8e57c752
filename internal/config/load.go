package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	uaerrors "github.com/sanderd17/node-opcua/internal/errors"
)

// Load reads a YAML config file, expands environment variables and decodes it
// over Default(). Unknown keys are rejected. The result is not validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, uaerrors.NewConfigError("file", fmt.Errorf("config file not found: %s", path))
		}
		return nil, uaerrors.NewConfigError("file", fmt.Errorf("cannot read config file %q: %w", path, err))
	}

	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader([]byte(ExpandEnv(string(data)))))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, uaerrors.NewConfigError("file", fmt.Errorf("invalid YAML in %s: %w", path, err))
	}
	return cfg, nil
}
