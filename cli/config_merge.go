package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
)

const (
	defaultConfigPath  = "/app/config.yaml"
	defaultSecretsPath = "/app/secrets.yaml"
)

func firstExistingPath(paths ...string) string {
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// readSecrets returns the secrets file, decrypting it with sops when it
// carries sops metadata.
func readSecrets(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets: %w", err)
	}
	if !bytes.Contains(data, []byte("\nsops:")) && !bytes.HasPrefix(data, []byte("sops:")) {
		return data, nil
	}
	return decryptSopsFile(path)
}

func decryptSopsFile(path string) ([]byte, error) {
	cmd := exec.Command("sops", "-d", path)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("sops -d %s: %w", path, err)
	}
	return output, nil
}

// mergeConfig overlays override on base. Empty strings and empty lists in
// override keep the base value.
func mergeConfig(base, override interface{}) interface{} {
	if override == nil {
		return base
	}

	switch overrideTyped := override.(type) {
	case map[string]interface{}:
		baseMap, ok := base.(map[string]interface{})
		if !ok {
			baseMap = map[string]interface{}{}
		}
		result := map[string]interface{}{}
		for key, value := range baseMap {
			result[key] = value
		}
		for key, value := range overrideTyped {
			result[key] = mergeConfig(result[key], value)
		}
		return result
	case []interface{}:
		if len(overrideTyped) == 0 {
			return base
		}
		return overrideTyped
	case string:
		if overrideTyped == "" {
			return base
		}
		return overrideTyped
	default:
		return override
	}
}

func getMap(source map[string]interface{}, key string) map[string]interface{} {
	if source == nil {
		return nil
	}
	value, ok := source[key]
	if !ok {
		return nil
	}
	if typed, ok := value.(map[string]interface{}); ok {
		return typed
	}
	return nil
}
