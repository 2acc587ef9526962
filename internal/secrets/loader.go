package secrets

import (
	"fmt"
	"os"
	"strings"
)

// Source describes where a secret such as an API key or bot token lives.
type Source struct {
	// Name is used in error messages.
	Name string
	// Value is an inline secret from configuration.
	Value string
	// File points to a file holding the secret. It wins over Env and Value.
	File string
	// Env names an environment variable consulted when File is unset. It wins over Value.
	Env string
}

// Load resolves src in File, Env, Value order and returns the trimmed secret.
func Load(src Source) (string, error) {
	name := strings.TrimSpace(src.Name)
	if name == "" {
		name = "secret"
	}

	origin := "value"
	switch file, env := strings.TrimSpace(src.File), strings.TrimSpace(src.Env); {
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", fmt.Errorf("reading %s from file %q: %w", name, file, err)
		}
		src.Value = string(data)
		origin = fmt.Sprintf("file %q", file)
	case env != "":
		if v, ok := os.LookupEnv(env); ok {
			src.Value = v
			origin = fmt.Sprintf("env %s", env)
		}
	}

	secret := strings.TrimSpace(src.Value)
	if secret == "" {
		if origin != "value" {
			return "", fmt.Errorf("%s from %s is empty", name, origin)
		}
		return "", fmt.Errorf("%s is not configured", name)
	}

	return secret, nil
}

// Optional is Load that treats an unconfigured secret as empty.
func Optional(src Source) (string, error) {
	if strings.TrimSpace(src.File) == "" && strings.TrimSpace(src.Value) == "" {
		if env := strings.TrimSpace(src.Env); env == "" || strings.TrimSpace(os.Getenv(env)) == "" {
			return "", nil
		}
	}
	return Load(src)
}
