package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Example is the configuration written by WriteTemplate: one listening connector for
// a tracker and one client connector dialing an imaging host.
func Example() Config {
	cfg := Default()
	cfg.CorsOrigins = []string{"http://localhost:3000"}
	cfg.Connectors = []ConnectorConfig{
		{Name: "tracker", Role: RoleServer, Port: 18944},
		{Name: "scanner", Role: RoleClient, Host: "127.0.0.1", Port: 18946},
	}
	return cfg
}

// Render encodes cfg in the on-disk TOML shape accepted by Load.
func Render(cfg Config) ([]byte, error) {
	out, err := toml.Marshal(toFile(cfg))
	if err != nil {
		return nil, fmt.Errorf("config render failed: %w", err)
	}
	return out, nil
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	data, err := Render(Example())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
