// Package config loads the server configuration.
//
// Each setting is taken from the first source that has it:
//  1. command-line flags
//  2. environment variables
//  3. the .env file (-env-file, default .env)
//  4. the YAML file (-config)
//  5. defaults
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the server configuration.
type Config struct {
	Addr        string // listen address, eg ":4000"
	Path        string // GraphQL endpoint
	StoreURI    string // badger://<dir>, badger://memory or mongodb://...
	LogLevel    string // error, info or debug
	CORSOrigins []string

	JWTSecret     string
	TokenTTL      time.Duration // zero: tokens do not expire
	LoginPassword string        // shared password accepted by login
	LoginRate     float64       // failed login attempts per second per username, zero for no limit
	LoginBurst    int

	Seed bool // load the sample catalog into an empty store

	WSInitialTimeout time.Duration
	WSPingFrequency  time.Duration
	WSPongTimeout    time.Duration
}

type setting struct {
	name  string   // flag name and YAML key
	env   []string // environment variables, the first one set is used
	def   string
	usage string
}

var settings = []setting{
	{"addr", []string{"ADDR"}, ":4000", "listen address"},
	{"port", []string{"PORT"}, "", "listen port (replaces the port of -addr)"},
	{"path", nil, "/graphql", "GraphQL endpoint path"},
	{"store", []string{"STORE_URI", "MONGODB_URI"}, "badger://./data", "store URI: badger://<dir>, badger://memory or mongodb://..."},
	{"log-level", []string{"LOG_LEVEL"}, "info", "log level: error, info or debug"},
	{"cors-origins", []string{"CORS_ORIGINS"}, "*", "comma separated allowed CORS origins"},
	{"jwt-secret", []string{"JWT_SECRET"}, "", "HMAC secret for signing tokens (required)"},
	{"token-ttl", []string{"TOKEN_TTL"}, "0s", "token lifetime, 0 for tokens that do not expire"},
	{"login-password", []string{"LOGIN_PASSWORD"}, "secret", "password accepted by login for every user"},
	{"login-rate", []string{"LOGIN_RATE"}, "0", "failed login attempts allowed per second per username (0 = unlimited)"},
	{"login-burst", []string{"LOGIN_BURST"}, "5", "login attempts allowed in a burst"},
	{"seed", []string{"SEED"}, "false", "load the sample catalog if the store is empty"},
	{"ws-init-timeout", nil, "10s", "time allowed for the websocket connection_init message"},
	{"ws-ping", nil, "20s", "websocket ping (keep-alive) frequency"},
	{"ws-pong", nil, "5s", "time allowed for a websocket pong"},
}

// Load builds the configuration from the command-line arguments (without the
// program name), the environment and the optional files.
func Load(args []string) (*Config, error) {
	fset := flag.NewFlagSet("bookql", flag.ContinueOnError)
	configFile := fset.String("config", "", "YAML configuration file")
	envFile := fset.String("env-file", ".env", "file of KEY=value environment settings")
	for _, s := range settings {
		fset.String(s.name, "", fmt.Sprintf("%s (default %q)", s.usage, s.def))
	}
	if err := fset.Parse(args); err != nil {
		return nil, err
	}
	if fset.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fset.Arg(0))
	}
	explicit := make(map[string]bool)
	fset.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	dotEnv, err := loadEnvFile(*envFile)
	if err != nil && (explicit["env-file"] || !errors.Is(err, fs.ErrNotExist)) {
		return nil, fmt.Errorf("reading env file: %w", err)
	}
	var file map[string]string
	if *configFile != "" {
		if file, err = loadYAML(*configFile); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	values := make(map[string]string, len(settings))
	for _, s := range settings {
		values[s.name] = lookup(s, fset, explicit, dotEnv, file)
	}
	return parse(values)
}

// lookup finds the value of one setting following the precedence order
func lookup(s setting, fset *flag.FlagSet, explicit map[string]bool, dotEnv, file map[string]string) string {
	if explicit[s.name] {
		return fset.Lookup(s.name).Value.String()
	}
	for _, key := range s.env {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v
		}
	}
	for _, key := range s.env {
		if v, ok := dotEnv[key]; ok && v != "" {
			return v
		}
	}
	if v, ok := file[s.name]; ok {
		return v
	}
	return s.def
}

func parse(values map[string]string) (*Config, error) {
	cfg := &Config{
		Addr:          values["addr"],
		Path:          values["path"],
		StoreURI:      values["store"],
		LogLevel:      strings.ToLower(values["log-level"]),
		JWTSecret:     values["jwt-secret"],
		LoginPassword: values["login-password"],
	}
	if port := values["port"]; port != "" {
		host, _, err := net.SplitHostPort(cfg.Addr)
		if err != nil {
			return nil, fmt.Errorf("invalid addr %q: %w", cfg.Addr, err)
		}
		cfg.Addr = net.JoinHostPort(host, port)
	}
	for _, origin := range strings.Split(values["cors-origins"], ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSOrigins = append(cfg.CORSOrigins, origin)
		}
	}

	var err error
	durations := map[string]*time.Duration{
		"token-ttl":       &cfg.TokenTTL,
		"ws-init-timeout": &cfg.WSInitialTimeout,
		"ws-ping":         &cfg.WSPingFrequency,
		"ws-pong":         &cfg.WSPongTimeout,
	}
	for name, d := range durations {
		if *d, err = time.ParseDuration(values[name]); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", name, values[name], err)
		}
	}
	if cfg.LoginRate, err = strconv.ParseFloat(values["login-rate"], 64); err != nil {
		return nil, fmt.Errorf("invalid login-rate %q: %w", values["login-rate"], err)
	}
	if cfg.LoginBurst, err = strconv.Atoi(values["login-burst"]); err != nil {
		return nil, fmt.Errorf("invalid login-burst %q: %w", values["login-burst"], err)
	}
	if cfg.Seed, err = strconv.ParseBool(values["seed"]); err != nil {
		return nil, fmt.Errorf("invalid seed %q: %w", values["seed"], err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.LogLevel {
	case "error", "info", "debug":
	default:
		return fmt.Errorf("invalid log level: %s (must be error, info or debug)", c.LogLevel)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("path %q must start with /", c.Path)
	}
	if c.LoginRate < 0 {
		return errors.New("login-rate cannot be negative")
	}
	if c.LoginBurst < 1 {
		return errors.New("login-burst must be at least 1")
	}
	if c.TokenTTL < 0 {
		return errors.New("token-ttl cannot be negative")
	}
	if c.WSInitialTimeout <= 0 || c.WSPingFrequency <= 0 || c.WSPongTimeout <= 0 {
		return errors.New("websocket timeouts must be positive")
	}
	return nil
}

// loadEnvFile reads KEY=value lines (# for comments). Unlike the real
// environment the values are not exported to the process.
func loadEnvFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseEnv(f)
}

func parseEnv(r io.Reader) (map[string]string, error) {
	env := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for lineNum := 1; scanner.Scan(); lineNum++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			return nil, fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}
		env[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return env, scanner.Err()
}

// loadYAML reads a YAML mapping keyed by the flag names. Lists are joined with commas.
func loadYAML(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	known := make(map[string]bool, len(settings))
	for _, s := range settings {
		known[s.name] = true
	}
	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if !known[k] {
			return nil, fmt.Errorf("unknown setting %q", k)
		}
		switch v := v.(type) {
		case nil:
		case []interface{}:
			parts := make([]string, len(v))
			for i, p := range v {
				parts[i] = fmt.Sprint(p)
			}
			values[k] = strings.Join(parts, ",")
		default:
			values[k] = fmt.Sprint(v)
		}
	}
	return values, nil
}
