package config

import (
	"bufio"
	"os"
	"strings"
)

// loadEnvFiles reads KEY=VALUE pairs from each file that exists and exports
// them into the process environment. Meant for local development; missing or
// malformed files are silently skipped.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if key, value, ok := parseEnvLine(scanner.Text()); ok {
				os.Setenv(key, value)
			}
		}
		_ = f.Close()
	}
}

// parseEnvLine splits one dotenv line. Blank lines, comments and lines
// without an equals sign report ok=false.
func parseEnvLine(line string) (key, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false
	}
	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", "", false
	}
	value = strings.Trim(strings.TrimSpace(value), `"`)
	return key, value, true
}
