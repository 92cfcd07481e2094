package config

import (
	"flag"
	"net"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
)

// Client kinds understood by the request factory selection.
const (
	ClientAuto      = "auto"
	ClientStdlib    = "stdlib"
	ClientPooled    = "pooled"
	ClientRetryable = "retryable"
)

const envPrefix = "VAULT_"

type SSL struct {
	CACert     string `koanf:"ca_cert"`
	CAPath     string `koanf:"ca_path"`
	ClientCert string `koanf:"client_cert"`
	ClientKey  string `koanf:"client_key"`
	ServerName string `koanf:"server_name"`
	Insecure   bool   `koanf:"insecure"`
}

type Retry struct {
	Max     int           `koanf:"max"`
	WaitMin time.Duration `koanf:"wait_min"`
	WaitMax time.Duration `koanf:"wait_max"`
}

// Config describes how tests reach Vault. Durations given in a TOML file
// must be strings such as "5s"; environment values may also be plain seconds.
type Config struct {
	// Vault connectivity
	Addr      string `koanf:"addr"`
	Scheme    string `koanf:"scheme"`
	Host      string `koanf:"host"`
	Port      int    `koanf:"port"`
	Namespace string `koanf:"namespace"`
	Token     string `koanf:"token"`

	ConnectionTimeout time.Duration `koanf:"connection_timeout"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`

	// Request factory
	ClientKind string `koanf:"client"`
	Retry      Retry  `koanf:"retry"`
	SSL        SSL    `koanf:"ssl"`

	// Accept these health statuses as "server is reachable and in a usable state"
	AcceptHealthStatuses []int `koanf:"accept_health_statuses"`

	Debug bool `koanf:"debug"`
}

func Default() Config {
	return Config{
		Scheme:            "https",
		Host:              "localhost",
		Port:              8200,
		ConnectionTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		ClientKind:        ClientAuto,
		Retry: Retry{
			Max:     2,
			WaitMin: 100 * time.Millisecond,
			WaitMax: 1 * time.Second,
		},
		AcceptHealthStatuses: []int{
			200, // active
			429, // standby
			472, // DR secondary
			473, // performance standby
		},
	}
}

// Load layers defaults, an optional TOML file and VAULT_* environment
// variables, in that order. Nested keys use "__" in variable names, e.g.
// VAULT_RETRY__MAX. The standard Vault CLI variables (VAULT_ADDR,
// VAULT_CACERT, VAULT_SKIP_VERIFY, ...) are honored as well.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return Config{}, errors.Wrap(err, "load defaults")
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, errors.Wrapf(err, "load %s", path)
		}
	}

	if err := k.Load(env.ProviderWithValue(envPrefix, ".", envKeyValue), nil); err != nil {
		return Config{}, errors.Wrap(err, "load environment")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, errors.Wrap(err, "unmarshal config")
	}
	if err := cfg.ApplyAddr(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// MustLoadConfig reads -config plus command line overrides on top of Load.
func MustLoadConfig() Config {
	var (
		path              string
		addr              string
		kind              string
		connectionTimeout string
		readTimeout       string
		insecure          bool
		debug             bool
	)

	flag.StringVar(&path, "config", envOr("VAULT_TEST_CONFIG", ""), "Path to a TOML config file")
	flag.StringVar(&addr, "vault-addr", "", "Vault address (overrides VAULT_ADDR)")
	flag.StringVar(&kind, "client", "", "HTTP client kind: auto|stdlib|pooled|retryable")
	flag.StringVar(&connectionTimeout, "connection-timeout", "", "Connect timeout (e.g. 5s, or seconds)")
	flag.StringVar(&readTimeout, "read-timeout", "", "Read timeout (e.g. 15s, or seconds)")
	flag.BoolVar(&insecure, "insecure-tls", false, "skip TLS verification (NOT recommended)")
	flag.BoolVar(&debug, "debug", false, "Print verbose debugging logs")
	flag.Parse()

	cfg, err := Load(path)
	if err != nil {
		panic("config: " + err.Error())
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["vault-addr"] {
		cfg.Addr = addr
		if err := cfg.ApplyAddr(); err != nil {
			panic("invalid -vault-addr: " + err.Error())
		}
	}
	if set["client"] {
		cfg.ClientKind = kind
	}
	if set["connection-timeout"] {
		d, err := parseFlexibleDuration(connectionTimeout)
		if err != nil {
			panic("invalid -connection-timeout: " + err.Error())
		}
		cfg.ConnectionTimeout = d
	}
	if set["read-timeout"] {
		d, err := parseFlexibleDuration(readTimeout)
		if err != nil {
			panic("invalid -read-timeout: " + err.Error())
		}
		cfg.ReadTimeout = d
	}
	if set["insecure-tls"] {
		cfg.SSL.Insecure = insecure
	}
	if set["debug"] {
		cfg.Debug = debug
	}

	if err := cfg.Validate(); err != nil {
		panic("config: " + err.Error())
	}
	return cfg
}

func (c Config) Validate() error {
	switch c.Scheme {
	case "http", "https":
	default:
		return errors.Errorf("invalid scheme %q (expected http|https)", c.Scheme)
	}
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return errors.Errorf("invalid port %d", c.Port)
	}
	switch c.ClientKind {
	case "", ClientAuto, ClientStdlib, ClientPooled, ClientRetryable:
	default:
		return errors.Errorf("invalid client kind %q (expected auto|stdlib|pooled|retryable)", c.ClientKind)
	}
	if c.ConnectionTimeout < 0 || c.ReadTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.Retry.Max < 0 {
		return errors.New("retry max must not be negative")
	}
	if c.Retry.WaitMax > 0 && c.Retry.WaitMin > c.Retry.WaitMax {
		return errors.New("retry wait_min exceeds wait_max")
	}
	if (c.SSL.ClientCert == "") != (c.SSL.ClientKey == "") {
		return errors.New("ssl client_cert and client_key must be set together")
	}
	return nil
}

// Address renders scheme://host:port.
func (c Config) Address() string {
	return c.Scheme + "://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) AcceptsHealthStatus(code int) bool {
	return slices.Contains(c.AcceptHealthStatuses, code)
}

// ApplyAddr splits Addr into scheme, host and port when it is set.
func (c *Config) ApplyAddr() error {
	if strings.TrimSpace(c.Addr) == "" {
		return nil
	}
	u, err := url.Parse(strings.TrimSpace(c.Addr))
	if err != nil {
		return errors.Wrapf(err, "parse addr %q", c.Addr)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return errors.Errorf("addr %q must look like scheme://host[:port]", c.Addr)
	}
	c.Scheme = u.Scheme
	c.Host = u.Hostname()
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return errors.Wrapf(err, "parse port in %q", c.Addr)
		}
		c.Port = port
	} else if u.Scheme == "http" {
		c.Port = 80
	} else {
		c.Port = 443
	}
	return nil
}

// Vault CLI variables that do not follow the nested naming scheme.
var envAliases = map[string]string{
	"cacert":          "ssl.ca_cert",
	"capath":          "ssl.ca_path",
	"client_cert":     "ssl.client_cert",
	"client_key":      "ssl.client_key",
	"tls_server_name": "ssl.server_name",
	"skip_verify":     "ssl.insecure",
}

func envKeyValue(key, value string) (string, interface{}) {
	k := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, envPrefix)), "__", ".")
	if alias, ok := envAliases[k]; ok {
		k = alias
	}
	if isDurationKey(k) {
		// allow seconds as integer
		if sec, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return k, (time.Duration(sec) * time.Second).String()
		}
	}
	return k, value
}

func isDurationKey(k string) bool {
	return strings.HasSuffix(k, "timeout") || strings.HasSuffix(k, ".wait_min") || strings.HasSuffix(k, ".wait_max")
}

// helpers
func envOr(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

func parseFlexibleDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty duration")
	}
	// Try Go duration first (e.g. 24h, 15m, 60s)
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	// Fallback: plain integer seconds
	if sec, err := strconv.Atoi(s); err == nil {
		return time.Duration(sec) * time.Second, nil
	}
	return 0, errors.Errorf("expected duration like 5s or seconds integer, got %q", s)
}
