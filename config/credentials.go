package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrInsecurePermissions is returned when a credentials file is readable
// by group or others.
var ErrInsecurePermissions = errors.New("credentials file has insecure permissions")

// Credentials holds API keys from credentials.toml. A [llm] section is
// the fallback for any provider without its own section.
type Credentials struct {
	llm       string
	providers map[string]string
}

// CredentialPaths returns the credential file locations in priority order.
func CredentialPaths() []string {
	paths := []string{"credentials.toml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "agentorg", "credentials.toml"))
	}
	return paths
}

// LoadCredentials loads the first credentials file found. No file is not
// an error; the returned Credentials then only consults the environment.
func LoadCredentials() (*Credentials, string, error) {
	for _, path := range CredentialPaths() {
		if _, err := os.Stat(path); err == nil {
			creds, err := LoadCredentialsFile(path)
			return creds, path, err
		}
	}
	return &Credentials{}, "", nil
}

// LoadCredentialsFile loads credentials from path. The file must not be
// accessible to group or others (0600 or 0400).
func LoadCredentialsFile(path string) (*Credentials, error) {
	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if mode := info.Mode().Perm(); mode&0o077 != 0 {
			return nil, fmt.Errorf("%w: %s has mode %04o (must be 0600 or 0400)",
				ErrInsecurePermissions, path, mode)
		}
	}

	var raw map[string]interface{}
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, err
	}

	creds := &Credentials{providers: make(map[string]string)}
	for section, value := range raw {
		table, ok := value.(map[string]interface{})
		if !ok {
			continue
		}
		key, _ := table["api_key"].(string)
		if key == "" {
			continue
		}
		if section == "llm" {
			creds.llm = key
		} else {
			creds.providers[strings.ToLower(section)] = key
		}
	}
	return creds, nil
}

// APIKey returns the key for provider.
// Priority: [provider] section, then [llm], then the provider's env var.
func (c *Credentials) APIKey(provider string) string {
	provider = strings.ToLower(provider)
	if c != nil {
		if key := c.providers[provider]; key != "" {
			return key
		}
		if c.llm != "" {
			return c.llm
		}
	}
	if env := envVarForProvider(provider); env != "" {
		return os.Getenv(env)
	}
	return ""
}

func envVarForProvider(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "openai":
		return "OPENAI_API_KEY"
	case "google":
		return "GOOGLE_API_KEY"
	case "", "echo":
		return ""
	default:
		return strings.ToUpper(strings.ReplaceAll(provider, "-", "_")) + "_API_KEY"
	}
}
