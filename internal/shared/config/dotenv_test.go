package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		in    string
		key   string
		value string
		ok    bool
	}{
		{`PORT=8080`, "PORT", "8080", true},
		{`  DEVIN_API_KEY = "secret" `, "DEVIN_API_KEY", "secret", true},
		{`# comment`, "", "", false},
		{``, "", "", false},
		{`NOEQUALS`, "", "", false},
		{`=value`, "", "", false},
	}
	for _, tc := range cases {
		key, value, ok := parseEnvLine(tc.in)
		if key != tc.key || value != tc.value || ok != tc.ok {
			t.Fatalf("parseEnvLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.in, key, value, ok, tc.key, tc.value, tc.ok)
		}
	}
}

func TestLoadEnvFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "# local overrides\nDOTENV_TEST_PORT=9090\n\nDOTENV_TEST_NAME=\"flags\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("DOTENV_TEST_PORT", "")
	t.Setenv("DOTENV_TEST_NAME", "")

	loadEnvFiles(path, filepath.Join(t.TempDir(), "missing.env"))

	if got := os.Getenv("DOTENV_TEST_PORT"); got != "9090" {
		t.Fatalf("DOTENV_TEST_PORT = %q, want 9090", got)
	}
	if got := os.Getenv("DOTENV_TEST_NAME"); got != "flags" {
		t.Fatalf("DOTENV_TEST_NAME = %q, want flags", got)
	}
}
