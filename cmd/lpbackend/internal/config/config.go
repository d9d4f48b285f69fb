// Package config holds the server configuration, persisted as JSON.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/laptisdev/lpbackend/cmd/lpbackend/internal/logger"
)

// FilePath is the default location of the configuration file.
const FilePath = "./config/lpbackend.json"

// LoggingConfig controls the log sink.
type LoggingConfig struct {
	ColorLogging bool `json:"color_logging"`
}

// NetworkingConfig controls the listening socket.
type NetworkingConfig struct {
	ListenAddress       string `json:"listen_address"`
	ListenPort          uint16 `json:"listen_port"`
	TimeoutMilliseconds uint64 `json:"timeout_milliseconds"`
}

// SSLConfig points at the TLS material on disk.
type SSLConfig struct {
	Certificate string `json:"certificate"`
	PrivateKey  string `json:"private_key"`
	TmpDH       string `json:"tmp_dh"`
	ForceSSL    bool   `json:"force_ssl"`
}

// AsioConfig sizes the worker pool.
type AsioConfig struct {
	WorkerThreads uint32 `json:"worker_threads"`
}

// HTTPConfig controls the static file responder.
type HTTPConfig struct {
	DocRoot      string `json:"doc_root"`
	FallbackFile string `json:"fallback_file"`
}

// APIConfig controls the health/metrics status listener. An empty address
// disables it.
type APIConfig struct {
	StatusAddress string `json:"status_address"`
}

// Config holds all application configuration.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Networking NetworkingConfig `json:"networking"`
	SSL        SSLConfig        `json:"ssl"`
	Asio       AsioConfig       `json:"asio"`
	HTTP       HTTPConfig       `json:"http"`
	API        APIConfig        `json:"api"`

	path string
}

// Default returns a configuration populated with the built-in defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			ColorLogging: true,
		},
		Networking: NetworkingConfig{
			ListenAddress:       "0.0.0.0",
			ListenPort:          443,
			TimeoutMilliseconds: 60000,
		},
		SSL: SSLConfig{
			Certificate: "./ssl/cert.pem",
			PrivateKey:  "./ssl/key.pem",
			TmpDH:       "./ssl/dh.pem",
			ForceSSL:    false,
		},
		Asio: AsioConfig{
			WorkerThreads: uint32(runtime.NumCPU()),
		},
		HTTP: HTTPConfig{
			DocRoot:      "./docroot",
			FallbackFile: "home.html",
		},
		API: APIConfig{
			StatusAddress: "127.0.0.1:9090",
		},
		path: FilePath,
	}
}

// SetPath changes where Save persists the configuration.
func (c *Config) SetPath(path string) {
	c.path = path
}

// knownOptions lists every recognized option path, used to warn about
// fields absent from the file.
var knownOptions = []string{
	"logging.color_logging",
	"networking.listen_address",
	"networking.listen_port",
	"networking.timeout_milliseconds",
	"ssl.certificate",
	"ssl.private_key",
	"ssl.tmp_dh",
	"ssl.force_ssl",
	"asio.worker_threads",
	"http.doc_root",
	"http.fallback_file",
	"api.status_address",
}

// Load reads the configuration from the default path.
func Load() (*Config, error) {
	return LoadFrom(FilePath)
}

// LoadFrom reads the configuration from path. A missing file is created
// with defaults; missing fields are warned about and left at their
// defaults; after a successful read the file is re-written canonicalized.
// On a parse error the returned configuration still carries the defaults
// so the caller can continue.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	logger.Info("Loading LPBackend configuration", "path", path)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Warn("Failed to find configuration, initializing a new one", "path", path)
		if err := cfg.Save(); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read configuration: %w", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("failed to parse JSON config: %w", err)
	}
	for _, option := range missingOptions(data) {
		logger.Warn("Missing configuration option, using default", "option", option)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse JSON config: %w", err)
	}
	if cfg.Asio.WorkerThreads < 1 {
		logger.Warn("asio.worker_threads must be at least 1, using default")
		cfg.Asio.WorkerThreads = Default().Asio.WorkerThreads
	}

	// Re-write the file so omitted fields become explicit.
	if err := cfg.Save(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save persists the configuration to the path it was loaded from.
func (c *Config) Save() error {
	path := c.path
	if path == "" {
		path = FilePath
	}
	logger.Info("Saving LPBackend configuration", "path", path)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create configuration directory: %w", err)
	}
	data, err := json.MarshalIndent(c, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to serialize configuration: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return nil
}

// missingOptions reports the recognized option paths absent from data.
func missingOptions(data []byte) []string {
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil
	}
	var missing []string
	for _, option := range knownOptions {
		section, key, _ := strings.Cut(option, ".")
		found := false
		if sub, ok := tree[section].(map[string]any); ok {
			_, found = sub[key]
		}
		if !found {
			missing = append(missing, option)
		}
	}
	return missing
}
