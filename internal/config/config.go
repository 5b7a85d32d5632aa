// Package config loads the small typed configuration each process (agent,
// server) reads at startup: a YAML file with defaults computed in Go, so a
// missing file is never an error, plus the environment-variable overrides
// spec §6 calls out as toggles.
package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentConfig is the Enforcement Agent's process configuration.
type AgentConfig struct {
	DataDir             string        `yaml:"data_dir"`
	SocketPath          string        `yaml:"socket_path"`
	HostsPath           string        `yaml:"hosts_path"`
	PolicyPath          string        `yaml:"policy_path"`
	MirrorPath          string        `yaml:"mirror_path"`
	TrustedResolver     string        `yaml:"trusted_resolver"`
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval"`
	MirrorSaveInterval  time.Duration `yaml:"mirror_save_interval"`
	GeoIPDirs           []string      `yaml:"geoip_dirs"`
}

// ServerConfig is the Control Server's process configuration.
type ServerConfig struct {
	ListenAddr     string        `yaml:"listen_addr"`
	AgentSocket    string        `yaml:"agent_socket"`
	TokenPath      string        `yaml:"token_path"`
	FlushIface     string        `yaml:"flush_iface"`
	ExpiryInterval time.Duration `yaml:"expiry_interval"`
}

const (
	defaultDataDir         = "/var/lib/focusshield"
	defaultSocketPath      = "/var/run/focusshield/agent.sock"
	defaultHostsPath       = "/etc/hosts"
	defaultTrustedResolver = "1.1.1.1:53"
	defaultListenAddr      = "127.0.0.1:8734"

	envTokenPath  = "FOCUSSHIELD_TOKEN_PATH"
	envFlushIface = "FOCUSSHIELD_FLUSH_IFACE"
)

// DefaultAgentConfig returns the agent's baseline configuration before any
// YAML file or environment override is applied.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		DataDir:             defaultDataDir,
		SocketPath:          defaultSocketPath,
		HostsPath:           defaultHostsPath,
		PolicyPath:          filepath.Join(defaultDataDir, "policy.json"),
		MirrorPath:          filepath.Join(defaultDataDir, "mirror.json"),
		TrustedResolver:     defaultTrustedResolver,
		ExpirySweepInterval: 10 * time.Second,
		MirrorSaveInterval:  30 * time.Second,
	}
}

// DefaultServerConfig returns the server's baseline configuration before
// any YAML file or environment override is applied.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     defaultListenAddr,
		AgentSocket:    defaultSocketPath,
		TokenPath:      filepath.Join(defaultDataDir, ".token"),
		ExpiryInterval: 30 * time.Second,
	}
}

// LoadAgentConfig reads path (if present) over the defaults. No environment
// variable overrides any agent setting.
func LoadAgentConfig(path string) (AgentConfig, error) {
	cfg := DefaultAgentConfig()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadServerConfig reads path (if present) over the defaults, then applies
// environment overrides for the bearer-token path and flush interface
// name (spec §6 "environment toggles").
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if err := loadYAML(path, &cfg); err != nil {
		return cfg, err
	}
	if v := os.Getenv(envTokenPath); v != "" {
		cfg.TokenPath = v
	}
	if v := os.Getenv(envFlushIface); v != "" {
		cfg.FlushIface = v
	}
	return cfg, nil
}

func loadYAML(path string, out interface{}) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, out)
}
