// Package config loads the process configuration of the bridge from a YAML
// file, a .env file and CXXRTL_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sarchlab/cxxrtlbridge/cxxrtl"
	"github.com/sarchlab/cxxrtlbridge/protocol"
)

// EnvPrefix prefixes every environment variable the configuration reads.
const EnvPrefix = "CXXRTL_"

// MQTT configures status and redraw notifications over MQTT.
type MQTT struct {
	Broker string `yaml:"broker"`
	Topic  string `yaml:"topic"`
}

// Config is the process configuration.
type Config struct {
	TCP      string   `yaml:"tcp"`
	Exec     string   `yaml:"exec"`
	ExecArgs []string `yaml:"exec_args"`

	ChannelCapacity int    `yaml:"channel_capacity"`
	RunQuantumFs    uint64 `yaml:"run_quantum_fs"`
	Reference       string `yaml:"reference"`
	ValueEncoding   string `yaml:"value_encoding"`

	MonitorPort int      `yaml:"monitor_port"`
	OpenBrowser bool     `yaml:"open_browser"`
	Record      string   `yaml:"record"`
	MQTT        MQTT     `yaml:"mqtt"`
	LogLevel    string   `yaml:"log_level"`
	Load        []string `yaml:"load"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		ChannelCapacity: cxxrtl.DefaultChannelCapacity,
		RunQuantumFs:    cxxrtl.DefaultRunQuantumFs,
		Reference:       cxxrtl.DefaultReference,
		ValueEncoding:   protocol.EncodingBase64U32,
		MonitorPort:     0,
		LogLevel:        "info",
	}
}

// Load builds a configuration from the defaults, the YAML file at path (if
// path is not empty), the .env file at envFile (if it exists) and the process
// environment, in that order.
func Load(path, envFile string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := loadEnvFile(envFile); err != nil {
		return Config{}, err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	if err := decoder.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return nil
}

// loadEnvFile adds the variables of a .env file to the environment. Variables
// already set are kept.
func loadEnvFile(envFile string) error {
	if envFile == "" {
		return nil
	}

	if _, err := os.Stat(envFile); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	if err := godotenv.Load(envFile); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}

	return nil
}

// ApplyEnv overrides fields with CXXRTL_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		return lookup(EnvPrefix + key)
	}

	strs := map[string]*string{
		"TCP":            &c.TCP,
		"EXEC":           &c.Exec,
		"REFERENCE":      &c.Reference,
		"VALUE_ENCODING": &c.ValueEncoding,
		"RECORD":         &c.Record,
		"MQTT_BROKER":    &c.MQTT.Broker,
		"MQTT_TOPIC":     &c.MQTT.Topic,
		"LOG_LEVEL":      &c.LogLevel,
	}
	for key, field := range strs {
		if v, ok := get(key); ok {
			*field = v
		}
	}

	if v, ok := get("EXEC_ARGS"); ok {
		c.ExecArgs = strings.Fields(v)
	}

	if v, ok := get("LOAD"); ok {
		c.Load = splitList(v)
	}

	if v, ok := get("CHANNEL_CAPACITY"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sCHANNEL_CAPACITY: %w", EnvPrefix, err)
		}

		c.ChannelCapacity = n
	}

	if v, ok := get("RUN_QUANTUM_FS"); ok {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid %sRUN_QUANTUM_FS: %w", EnvPrefix, err)
		}

		c.RunQuantumFs = n
	}

	if v, ok := get("MONITOR_PORT"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sMONITOR_PORT: %w", EnvPrefix, err)
		}

		c.MonitorPort = n
	}

	if v, ok := get("OPEN_BROWSER"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sOPEN_BROWSER: %w", EnvPrefix, err)
		}

		c.OpenBrowser = b
	}

	return nil
}

func splitList(v string) []string {
	var out []string

	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}

	return out
}

// Validate reports the first problem that would prevent connecting.
func (c Config) Validate() error {
	switch {
	case c.TCP == "" && c.Exec == "":
		return errors.New("either a tcp address or an exec binary is required")
	case c.TCP != "" && c.Exec != "":
		return errors.New("tcp and exec cannot be used together")
	case c.ChannelCapacity <= 0:
		return fmt.Errorf("channel capacity must be positive, got %d", c.ChannelCapacity)
	case c.RunQuantumFs == 0:
		return errors.New("run quantum must not be zero")
	case c.Reference != cxxrtl.DefaultReference:
		return fmt.Errorf("unsupported reference name %q", c.Reference)
	case c.ValueEncoding != protocol.EncodingBase64U32:
		return fmt.Errorf("unsupported value encoding %q", c.ValueEncoding)
	case (c.MQTT.Broker == "") != (c.MQTT.Topic == ""):
		return errors.New("mqtt broker and topic must be set together")
	}

	if _, err := c.Level(); err != nil {
		return err
	}

	return nil
}

// Level returns the logrus level named by LogLevel.
func (c Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, fmt.Errorf("invalid log level: %w", err)
	}

	return level, nil
}
