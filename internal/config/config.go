package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// Duration wraps time.Duration with JSON support for both "2s"-style
// strings and millisecond numbers, since config files written by hand
// and by tools disagree on which one is natural.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var millis int64
	if err := json.Unmarshal(data, &millis); err == nil {
		*d = Duration(time.Duration(millis) * time.Millisecond)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid duration %s", data)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the plain time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the client configuration.
type Config struct {
	// ServerURL is the http(s) base URL of the collaboration server.
	ServerURL string `json:"serverUrl,omitempty"`
	// UserID identifies the local user to the server.
	UserID string `json:"userId,omitempty"`
	// UserName is the display name broadcast via presence.
	UserName string `json:"userName,omitempty"`
	// UserEmail is used for identity matching on join requests.
	UserEmail string `json:"userEmail,omitempty"`
	// LogLevel is debug, info, warn, error or fatal.
	LogLevel string `json:"logLevel,omitempty"`
	// Pretty enables human-readable console logging.
	Pretty bool `json:"pretty,omitempty"`
	// StatusAddr is the listen address of the local status server,
	// empty to disable it.
	StatusAddr string `json:"statusAddr,omitempty"`

	ReconnectInitialInterval Duration `json:"reconnectInitialInterval,omitempty"`
	ReconnectMaxInterval     Duration `json:"reconnectMaxInterval,omitempty"`
	DocSyncTimeout           Duration `json:"docSyncTimeout,omitempty"`
	RoomCreateTimeout        Duration `json:"roomCreateTimeout,omitempty"`
	CursorPollInterval       Duration `json:"cursorPollInterval,omitempty"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		ServerURL:                "http://localhost:4000",
		LogLevel:                 "info",
		ReconnectInitialInterval: Duration(time.Second),
		ReconnectMaxInterval:     Duration(5 * time.Second),
		DocSyncTimeout:           Duration(2 * time.Second),
		RoomCreateTimeout:        Duration(10 * time.Second),
		CursorPollInterval:       Duration(120 * time.Millisecond),
	}
}

// Load loads configuration from multiple sources (priority order,
// later wins):
//  1. Built-in defaults
//  2. Global config (~/.config/roomsync/)
//  3. Project config (roomsync.json(c) or .roomsync/ in directory)
//  4. ROOMSYNC_CONFIG file
//  5. ROOMSYNC_CONFIG_CONTENT inline JSON
//  6. .env in directory, then environment variables
func Load(directory string) (*Config, error) {
	config := Default()

	loaded := make(map[string]bool)
	loadOnce := func(path, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "roomsync.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "roomsync.jsonc"), globalPath)

	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".roomsync")
		loadOnce(filepath.Join(directory, "roomsync.json"), directory)
		loadOnce(filepath.Join(directory, "roomsync.jsonc"), directory)
		loadOnce(filepath.Join(projectConfigDir, "roomsync.json"), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "roomsync.jsonc"), projectConfigDir)
	}

	if configPath := os.Getenv("ROOMSYNC_CONFIG"); configPath != "" {
		loadOnce(configPath, filepath.Dir(configPath))
	}

	if configContent := os.Getenv("ROOMSYNC_CONFIG_CONTENT"); configContent != "" {
		var inline Config
		if err := json.Unmarshal(jsonc.ToJSON([]byte(configContent)), &inline); err == nil {
			mergeConfig(config, &inline)
		}
	}

	if directory != "" {
		// Existing environment always wins over .env values.
		_ = godotenv.Load(filepath.Join(directory, ".env"))
	}
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // keep the placeholder if the file is missing
		}

		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")
		return strings.TrimSpace(escaped)
	})

	return []byte(str)
}

// mergeConfig merges source into target, non-zero fields only.
func mergeConfig(target, source *Config) {
	if source.ServerURL != "" {
		target.ServerURL = source.ServerURL
	}
	if source.UserID != "" {
		target.UserID = source.UserID
	}
	if source.UserName != "" {
		target.UserName = source.UserName
	}
	if source.UserEmail != "" {
		target.UserEmail = source.UserEmail
	}
	if source.LogLevel != "" {
		target.LogLevel = source.LogLevel
	}
	if source.Pretty {
		target.Pretty = true
	}
	if source.StatusAddr != "" {
		target.StatusAddr = source.StatusAddr
	}
	if source.ReconnectInitialInterval > 0 {
		target.ReconnectInitialInterval = source.ReconnectInitialInterval
	}
	if source.ReconnectMaxInterval > 0 {
		target.ReconnectMaxInterval = source.ReconnectMaxInterval
	}
	if source.DocSyncTimeout > 0 {
		target.DocSyncTimeout = source.DocSyncTimeout
	}
	if source.RoomCreateTimeout > 0 {
		target.RoomCreateTimeout = source.RoomCreateTimeout
	}
	if source.CursorPollInterval > 0 {
		target.CursorPollInterval = source.CursorPollInterval
	}
}

// applyEnvOverrides applies environment variable overrides, the
// highest-priority source.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("ROOMSYNC_SERVER_URL"); v != "" {
		config.ServerURL = v
	}
	if v := os.Getenv("ROOMSYNC_USER_ID"); v != "" {
		config.UserID = v
	}
	if v := os.Getenv("ROOMSYNC_USER_NAME"); v != "" {
		config.UserName = v
	}
	if v := os.Getenv("ROOMSYNC_USER_EMAIL"); v != "" {
		config.UserEmail = v
	}
	if v := os.Getenv("ROOMSYNC_LOG_LEVEL"); v != "" {
		config.LogLevel = v
	}
	if v := os.Getenv("ROOMSYNC_PRETTY"); v != "" {
		config.Pretty = v == "1" || strings.EqualFold(v, "true")
	}
	if v := os.Getenv("ROOMSYNC_STATUS_ADDR"); v != "" {
		config.StatusAddr = v
	}
	if v := os.Getenv("ROOMSYNC_DOC_SYNC_TIMEOUT"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			config.DocSyncTimeout = Duration(parsed)
		}
	}
}

// Save saves the configuration to a file.
func Save(config *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
