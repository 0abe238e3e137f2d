package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"clearci/pkg/client"
)

const defaultServer = "http://localhost:8080"
const envConfigOverride = "CLEARCI_CONFIG"

// Persistent flag values shared by every subcommand.
var (
	serverURL  string
	apiKeyFlag string
	tokenFlag  string
	configFlag string
)

// cliConfig is the on-disk CLI configuration. Flags override it field by field.
type cliConfig struct {
	Server string `toml:"server"`
	APIKey string `toml:"api_key"`
	Token  string `toml:"token"`
}

const templateConfig = `# clearci CLI configuration

# Base URL of the clearci API server.
server = "http://localhost:8080"

# API key issued by 'clearci' server admins. Leave empty for
# installs that run without authentication.
api_key = ""

# A JWT bearer token may be used instead of an API key.
token = ""
`

// configFilePath resolves the config file location: --config flag, then
// CLEARCI_CONFIG, then the per-user default.
func configFilePath() (string, error) {
	if configFlag != "" {
		return configFlag, nil
	}
	if p := os.Getenv(envConfigOverride); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "clearci", "config.toml"), nil
}

// loadConfig reads the CLI config file. A missing file is only an error when
// the user pointed at one explicitly; otherwise flags can supply everything.
func loadConfig() (cliConfig, error) {
	path, err := configFilePath()
	if err != nil {
		return cliConfig{}, err
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if configFlag != "" {
			return cliConfig{}, fmt.Errorf("config file %s not found", path)
		}
		return cliConfig{}, nil
	}
	if err != nil {
		return cliConfig{}, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg cliConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return cfg, nil
}

// buildClient resolves the config file and flags into an API client.
func buildClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	server := cfg.Server
	if serverURL != "" {
		server = serverURL
	}
	if server == "" {
		server = defaultServer
	}

	key := cfg.APIKey
	if apiKeyFlag != "" {
		key = apiKeyFlag
	}
	token := cfg.Token
	if tokenFlag != "" {
		token = tokenFlag
	}

	opts := []client.Option{client.WithTimeout(30 * time.Second)}
	if key != "" {
		opts = append(opts, client.WithAPIKey(key))
	}
	if token != "" {
		opts = append(opts, client.WithToken(token))
	}
	return client.New(server, opts...), nil
}

// formatTime renders an optional timestamp for table output.
func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

// formatDuration renders the wall time of a run, ticking while it is still going.
func formatDuration(start, end *time.Time) string {
	if start == nil {
		return "-"
	}
	stop := time.Now()
	if end != nil {
		stop = *end
	}
	d := stop.Sub(*start).Round(time.Second)
	if d < 0 {
		d = 0
	}
	return d.String()
}

// truncate shortens s for narrow table columns.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
