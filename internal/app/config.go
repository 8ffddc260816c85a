package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/shhac/grpcsim/internal/domain"
	"github.com/shhac/grpcsim/internal/grpc"
	"github.com/shhac/grpcsim/internal/schema"
)

const envPrefix = "GRPCSIM"

// Config holds application-wide configuration. Values come from, in
// increasing priority: defaults, grpcsim.yaml, GRPCSIM_* environment
// variables and command-line flags.
type Config struct {
	// Target is the host:port of the gRPC server
	Target string `mapstructure:"target"`

	// Schema is the .proto file or compiled descriptor set to load
	Schema      string   `mapstructure:"schema"`
	ImportPaths []string `mapstructure:"import_paths"`

	// Reflect loads the schema from the target's reflection service
	Reflect bool `mapstructure:"reflect"`

	// Timeout bounds a single call
	Timeout time.Duration `mapstructure:"timeout"`

	// Wait, when positive, probes the target for readiness before invoking
	Wait       time.Duration `mapstructure:"wait"`
	ProbeSlice time.Duration `mapstructure:"probe_slice"`

	TLS TLSConfig `mapstructure:"tls"`

	// Headers are "key: value" request metadata entries
	Headers []string `mapstructure:"headers"`

	// Debug enables debug logging and additional diagnostics
	Debug bool `mapstructure:"debug"`

	// LogFile, when set, also writes JSON logs to this path ("auto" for the
	// platform log location)
	LogFile string `mapstructure:"log_file"`

	History HistoryConfig `mapstructure:"history"`
	Etcd    EtcdConfig    `mapstructure:"etcd"`

	Normalization schema.Normalization `mapstructure:"normalization"`
}

// TLSConfig selects transport security
type TLSConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	InsecureSkipVerify bool   `mapstructure:"insecure_skip_verify"`
	CAFile             string `mapstructure:"ca_file"`
	CertFile           string `mapstructure:"cert_file"`
	KeyFile            string `mapstructure:"key_file"`
	ServerName         string `mapstructure:"server_name"`
}

// HistoryConfig controls the invocation history log
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path is the directory holding history.json; empty uses ~/.grpcsim
	Path string `mapstructure:"path"`
}

// EtcdConfig selects an etcd-published schema instead of a local file
type EtcdConfig struct {
	Endpoints   []string      `mapstructure:"endpoints"`
	Key         string        `mapstructure:"key"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Target:     "localhost:50051",
		Schema:     "proto/dnd5e.proto",
		Timeout:    grpc.DefaultCallTimeout,
		ProbeSlice: grpc.DefaultProbeSlice,
		Etcd: EtcdConfig{
			DialTimeout: schema.DefaultEtcdDialTimeout,
		},
	}
}

// Connection returns the connection settings for cfg.
func (c *Config) Connection() domain.Connection {
	mode := domain.CredentialsInsecure
	switch {
	case c.TLS.Enabled && c.TLS.InsecureSkipVerify:
		mode = domain.CredentialsTLSSkipVerify
	case c.TLS.Enabled:
		mode = domain.CredentialsTLS
	}
	return domain.Connection{
		Address:     c.Target,
		Credentials: mode,
		Timeout:     c.Timeout,
		TLS: domain.TLSSettings{
			ServerName:     c.TLS.ServerName,
			CAFile:         c.TLS.CAFile,
			ClientCertFile: c.TLS.CertFile,
			ClientKeyFile:  c.TLS.KeyFile,
		},
	}
}

// Metadata parses Headers into request metadata.
func (c *Config) Metadata() (map[string]string, error) {
	if len(c.Headers) == 0 {
		return nil, nil
	}
	md := make(map[string]string, len(c.Headers))
	for _, h := range c.Headers {
		k, v, ok := strings.Cut(h, ":")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("header %q must be in the form \"key: value\"", h)
		}
		md[strings.ToLower(k)] = strings.TrimSpace(v)
	}
	return md, nil
}

// flagKeys maps config keys to the flags that override them.
var flagKeys = map[string]string{
	"target":                   "target",
	"schema":                   "schema",
	"import_paths":             "import-path",
	"reflect":                  "reflect",
	"timeout":                  "timeout",
	"wait":                     "wait",
	"tls.enabled":              "tls",
	"tls.insecure_skip_verify": "insecure-skip-verify",
	"tls.ca_file":              "ca-file",
	"tls.server_name":          "server-name",
	"headers":                  "header",
	"debug":                    "debug",
}

// LoadConfig resolves the configuration. configFile, when non-empty, must
// exist; otherwise grpcsim.yaml is looked up in . and ./config.
func LoadConfig(fs *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("grpcsim")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for key, name := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every default so environment variables can
// override keys that no config file mentions.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("target", d.Target)
	v.SetDefault("schema", d.Schema)
	v.SetDefault("import_paths", d.ImportPaths)
	v.SetDefault("reflect", d.Reflect)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("wait", d.Wait)
	v.SetDefault("probe_slice", d.ProbeSlice)
	v.SetDefault("tls.enabled", d.TLS.Enabled)
	v.SetDefault("tls.insecure_skip_verify", d.TLS.InsecureSkipVerify)
	v.SetDefault("tls.ca_file", d.TLS.CAFile)
	v.SetDefault("tls.cert_file", d.TLS.CertFile)
	v.SetDefault("tls.key_file", d.TLS.KeyFile)
	v.SetDefault("tls.server_name", d.TLS.ServerName)
	v.SetDefault("headers", d.Headers)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("log_file", d.LogFile)
	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", d.History.Path)
	v.SetDefault("etcd.endpoints", d.Etcd.Endpoints)
	v.SetDefault("etcd.key", d.Etcd.Key)
	v.SetDefault("etcd.dial_timeout", d.Etcd.DialTimeout)
	v.SetDefault("normalization.keep_case", d.Normalization.KeepCase)
	v.SetDefault("normalization.enums_as_numbers", d.Normalization.EnumsAsNumbers)
	v.SetDefault("normalization.omit_defaults", d.Normalization.OmitDefaults)
}
