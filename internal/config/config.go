// Package config provides YAML-based configuration loading for sociobot.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the environment variable consulted when no explicit
// config path is given.
const EnvConfigFile = "ZDS_AI_AGENT_CONFIG_FILE"

// Persistence drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// file is the on-disk document shape; everything lives under "sociobot:".
type file struct {
	Sociobot *Config `yaml:"sociobot"`
}

// Config is the sociobot section of the agent config file.
type Config struct {
	MaxACL               int               `yaml:"max_acl"`
	MessageDelay         int               `yaml:"message_delay"` // milliseconds
	ACLBase              int               `yaml:"acl_base"`
	DMCeiling            int               `yaml:"dm_ceiling"`
	MaxFailures          int               `yaml:"max_failures"`
	MaxConcurrent        int               `yaml:"max_concurrent"`
	MaxLoadAverage       float64           `yaml:"max_load_average"`
	LoadCheckIntervalSec int               `yaml:"load_check_interval_sec"`
	FetchLimit           int               `yaml:"fetch_limit"`
	RealtimeTimeoutSec   int               `yaml:"realtime_timeout_sec"`
	BatchTimeoutSec      int               `yaml:"batch_timeout_sec"`
	Discord              DiscordConfig     `yaml:"discord"`
	Agent                AgentConfig       `yaml:"agent"`
	Persistence          PersistenceConfig `yaml:"persistence"`
	HTTP                 HTTPConfig        `yaml:"http"`
}

// DiscordConfig holds credentials and well-known channel ids.
type DiscordConfig struct {
	Token           string   `yaml:"token"`
	BotUserID       string   `yaml:"bot_user_id"`
	SharedChannelID string   `yaml:"shared_channel_id"`
	DMChannelIDs    []string `yaml:"dm_channel_ids"`
	// AgentRoleIDs maps a guild id to the role that marks agent bots in it.
	AgentRoleIDs map[string]string `yaml:"agent_role_ids"`
}

// AgentConfig describes how to run the agent process and its helpers.
type AgentConfig struct {
	Command           string `yaml:"command"`
	Home              string `yaml:"home"`
	TranscribeCommand string `yaml:"transcribe_command"`
	SpeechCommand     string `yaml:"speech_command"`
}

// PersistenceConfig selects where cursors are stored.
type PersistenceConfig struct {
	Driver   string `yaml:"driver"`
	Dir      string `yaml:"dir"`  // file driver
	Path     string `yaml:"path"` // sqlite driver
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
}

// HTTPConfig controls the local status server. Port 0 disables it.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// ResolvePath returns flagPath if set, else the value of EnvConfigFile.
func ResolvePath(flagPath string) (string, error) {
	if flagPath != "" {
		return flagPath, nil
	}
	if p := os.Getenv(EnvConfigFile); p != "" {
		return p, nil
	}
	return "", fmt.Errorf("config: no config file: pass --config or set %s", EnvConfigFile)
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if f.Sociobot == nil {
		return nil, fmt.Errorf("config: missing sociobot section")
	}
	cfg := f.Sociobot
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.MessageDelay == 0 {
		c.MessageDelay = 17000
	}
	if c.ACLBase == 0 {
		c.ACLBase = 6
	}
	if c.DMCeiling == 0 {
		c.DMCeiling = 1
	}
	if c.MaxFailures == 0 {
		c.MaxFailures = 5
	}
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = 3
	}
	if c.MaxLoadAverage == 0 {
		c.MaxLoadAverage = 21
	}
	if c.LoadCheckIntervalSec == 0 {
		c.LoadCheckIntervalSec = 30
	}
	if c.FetchLimit == 0 {
		c.FetchLimit = 20
	}
	if c.RealtimeTimeoutSec == 0 {
		c.RealtimeTimeoutSec = 180
	}
	if c.BatchTimeoutSec == 0 {
		c.BatchTimeoutSec = 300
	}
	if c.Discord.SharedChannelID == "" {
		c.Discord.SharedChannelID = "1418032549430558782"
	}
	if c.Agent.Command == "" {
		c.Agent.Command = "zai"
	}
	p := &c.Persistence
	if p.Driver == "" {
		p.Driver = DriverFile
	}
	if p.Dir == "" {
		p.Dir = "./data/persistence"
	}
	if p.Path == "" {
		p.Path = "./data/sociobot.db"
	}
	if p.Host == "" {
		p.Host = "127.0.0.1"
	}
	if p.Port == 0 {
		p.Port = 3306
	}
	if p.Database == "" {
		p.Database = "sociobot"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Discord.Token == "" {
		errs = append(errs, "discord.token is required")
	}
	if c.Discord.BotUserID == "" {
		errs = append(errs, "discord.bot_user_id is required")
	}
	if c.MaxACL < 0 {
		errs = append(errs, "max_acl must not be negative")
	}
	if c.FetchLimit > 100 {
		errs = append(errs, "fetch_limit must be at most 100")
	}
	switch c.Persistence.Driver {
	case DriverFile, DriverSQLite, DriverMySQL:
	default:
		errs = append(errs, fmt.Sprintf("persistence.driver %q is not one of file, sqlite, mysql", c.Persistence.Driver))
	}
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Sprintf("http.port %d is out of range", c.HTTP.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
