package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
	"gopkg.in/yaml.v3"
)

// ReadFile decodes a json5 or yaml document into T. The format follows the
// extension (.yaml/.yml are yaml, anything else is json5, which also accepts
// plain JSON). A sibling "<name>.local.<ext>" file, when present, is merged
// over the base file so credentials and per-machine tweaks stay out of the
// shared recipe.
func ReadFile[T any](path string) (T, error) {
	var out T

	base, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := decode(path, base, &out); err != nil {
		return out, err
	}

	local := localPath(path)
	overlay, err := os.ReadFile(local)
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return out, fmt.Errorf("failed to read %s: %w", local, err)
	}

	var override T
	if err := decode(local, overlay, &override); err != nil {
		return out, err
	}
	if err := mergo.Merge(&out, override, mergo.WithOverride); err != nil {
		return out, fmt.Errorf("failed to merge %s: %w", local, err)
	}
	slog.Debug("merged local overrides", "file", local)

	return out, nil
}

// WithDefaults fills zero-valued fields of dst from defaults.
func WithDefaults[T any](dst *T, defaults T) error {
	return mergo.Merge(dst, defaults)
}

func decode(path string, data []byte, out any) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	default:
		if err := json5.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}
	return nil
}

func localPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}
