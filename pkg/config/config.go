package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Precedence is flag > environment (ANK_ prefix) > config file >
// default. Flags are bound per binary via BindFlags.

const envPrefix = "ANK"

// Server holds the ank-server configuration.
type Server struct {
	Address         string `mapstructure:"address"`
	StartupManifest string `mapstructure:"startup_manifest"`
	TLS             TLS    `mapstructure:"tls"`
	LogLevel        string `mapstructure:"log_level"`
	MetricsAddress  string `mapstructure:"metrics_address"`
}

// Agent holds the ank-agent configuration.
type Agent struct {
	Name           string        `mapstructure:"name"`
	ServerURL      string        `mapstructure:"server_url"`
	RunFolder      string        `mapstructure:"run_folder"`
	PodmanBinary   string        `mapstructure:"podman_binary"`
	ContainerdSock string        `mapstructure:"containerd_socket"`
	RetryLimit     int           `mapstructure:"retry_limit"`
	RetryInterval  time.Duration `mapstructure:"retry_interval"`
	TLS            TLS           `mapstructure:"tls"`
	LogLevel       string        `mapstructure:"log_level"`
}

// CLI holds the ank command configuration.
type CLI struct {
	ServerURL string        `mapstructure:"server_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	TLS       TLS           `mapstructure:"tls"`
}

// TLS carries the mutual-TLS material paths. Insecure disables TLS
// entirely (flag --insecure / -k or ANK_INSECURE=true).
type TLS struct {
	Insecure bool   `mapstructure:"insecure"`
	CAPem    string `mapstructure:"ca_pem"`
	CrtPem   string `mapstructure:"crt_pem"`
	KeyPem   string `mapstructure:"key_pem"`
}

// New returns a viper instance with the ANK environment prefix and
// optional config file wired in.
func New(configFile string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("address", "127.0.0.1:25551")
	v.SetDefault("server_url", "127.0.0.1:25551")
	v.SetDefault("run_folder", "/tmp/ankaios")
	v.SetDefault("podman_binary", "podman")
	v.SetDefault("retry_limit", 20)
	v.SetDefault("retry_interval", time.Second)
	v.SetDefault("timeout", 10*time.Second)
	v.SetDefault("log_level", "info")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configFile, err)
		}
	}
	return v, nil
}

// BindFlags binds a flag set so that explicitly-set flags override the
// environment and the config file. Flag names use dashes, config keys
// underscores.
func BindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var bindErr error
	flags.VisitAll(func(f *pflag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = err
		}
	})
	return bindErr
}

// LoadServer resolves the server configuration.
func LoadServer(v *viper.Viper) (Server, error) {
	cfg := Server{
		Address:         v.GetString("address"),
		StartupManifest: v.GetString("startup_manifest"),
		LogLevel:        v.GetString("log_level"),
		MetricsAddress:  v.GetString("metrics_address"),
		TLS:             loadTLS(v),
	}
	if cfg.Address == "" {
		return cfg, fmt.Errorf("server address must not be empty")
	}
	return cfg, nil
}

// LoadAgent resolves the agent configuration.
func LoadAgent(v *viper.Viper) (Agent, error) {
	cfg := Agent{
		Name:           v.GetString("name"),
		ServerURL:      v.GetString("server_url"),
		RunFolder:      v.GetString("run_folder"),
		PodmanBinary:   v.GetString("podman_binary"),
		ContainerdSock: v.GetString("containerd_socket"),
		RetryLimit:     v.GetInt("retry_limit"),
		RetryInterval:  v.GetDuration("retry_interval"),
		LogLevel:       v.GetString("log_level"),
		TLS:            loadTLS(v),
	}
	if cfg.Name == "" && cfg.TLS.Insecure {
		return cfg, fmt.Errorf("agent name is required when mTLS is disabled")
	}
	return cfg, nil
}

// LoadCLI resolves the ank CLI configuration.
func LoadCLI(v *viper.Viper) CLI {
	return CLI{
		ServerURL: v.GetString("server_url"),
		Timeout:   v.GetDuration("timeout"),
		TLS:       loadTLS(v),
	}
}

func loadTLS(v *viper.Viper) TLS {
	return TLS{
		Insecure: v.GetBool("insecure"),
		CAPem:    v.GetString("ca_pem"),
		CrtPem:   v.GetString("crt_pem"),
		KeyPem:   v.GetString("key_pem"),
	}
}
