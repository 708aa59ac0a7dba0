// Package config loads the toolkit's YAML configuration: a file named
// after the binary, looked up next to the executable and falling back
// to /etc.
package config

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/hwkim3330/velocitydrivesp-support/internal/logging"
)

var (
	AppName   = "mup1cc"
	Version   = "undefined"
	BuildTime = "undefined"
)

// Config is the on-disk shape of <app>.yml.
type Config struct {
	// Carrier is a termhub://, telnet://, or filesystem serial path.
	Carrier string `yaml:"carrier"`

	MUP1 struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"mup1"`

	Request struct {
		RetransmitMS int `yaml:"retransmit_ms"`
		MaxRetries   int `yaml:"max_retries"`
		BlockSize    int `yaml:"block_size"`
	} `yaml:"request"`

	Schema struct {
		YangPaths []string `yaml:"yang_paths"`
		SidPaths  []string `yaml:"sid_paths"`
		CacheDir  string   `yaml:"cache_dir"`
	} `yaml:"schema"`

	Logger struct {
		Dir    string `yaml:"dir"`
		Level  string `yaml:"level"`
		Rotate bool   `yaml:"rotate"`
	} `yaml:"logger"`
}

// RetransmitInterval returns the configured retransmit interval, falling
// back to a default of 3s.
func (c *Config) RetransmitInterval() time.Duration {
	if c.Request.RetransmitMS <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.Request.RetransmitMS) * time.Millisecond
}

// MaxRetries returns the configured retry budget, falling back to 5.
func (c *Config) MaxRetries() int {
	if c.Request.MaxRetries <= 0 {
		return 5
	}
	return c.Request.MaxRetries
}

// BlockSize returns the configured Block1/Block2 size, falling back to 256.
func (c *Config) BlockSize() int {
	if c.Request.BlockSize <= 0 {
		return 256
	}
	return c.Request.BlockSize
}

func init() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stdout, AppName+", version "+Version+" (built "+BuildTime+")")
		flag.PrintDefaults()
	}
}

// Parse reads <app>.yml next to the running executable, or /etc/<app>.yml,
// applies logger setup, and returns the parsed Config. It does not call
// flag.Parse itself; callers own their own flag set.
func Parse() (*Config, error) {
	ex, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("config: resolve executable path: %w", err)
	}

	cfile := filepath.Join(filepath.Dir(ex), AppName+".yml")
	if _, err := os.Stat(cfile); os.IsNotExist(err) {
		cfile = filepath.Join("/etc", AppName+".yml")
	}

	data, err := os.ReadFile(cfile)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", cfile, err)
	}

	conf := new(Config)
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", cfile, err)
	}

	conf.applyLogger(ex)
	return conf, nil
}

func (c *Config) applyLogger(exePath string) {
	defer logging.Sync()

	if c.Logger.Rotate {
		dir := c.Logger.Dir
		if dir == "" {
			dir = filepath.Dir(exePath)
		}
		out := logging.NewProductionRotateByTime(filepath.Join(dir, AppName+".log"))
		logging.ReplaceDefault(logging.New(out, logging.InfoLevel))
	}

	switch c.Logger.Level {
	case "debug":
		logging.SetLevel(logging.DebugLevel)
	case "warn":
		logging.SetLevel(logging.WarnLevel)
	case "error":
		logging.SetLevel(logging.ErrorLevel)
	default:
		logging.SetLevel(logging.InfoLevel)
	}
}
