// Package config loads the datacore YAML configuration file.
//
// Values of the form ${VAR} are expanded from the environment before the
// file is parsed. Unknown keys are rejected. Defaults are applied before
// validation, so a minimal file only names the primary database.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/prashanthpai/datacore/router"
)

// Cache backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
	BackendNone   = "none"
)

const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverSqlite   = "sqlite"
)

const (
	defaultKeyPrefix   = "dc"
	defaultTTL         = time.Minute
	defaultMaxCost     = 64 << 20
	defaultNumCounters = 1e6
	defaultLogLevel    = "info"
)

// Config is the root of the configuration file.
type Config struct {
	Database Database `yaml:"database"`
	Cache    Cache    `yaml:"cache"`
	Log      Log      `yaml:"log"`
}

// Database describes the primary, the replicas and their pools.
type Database struct {
	Driver          string        `yaml:"driver"`
	Primary         Endpoint      `yaml:"primary"`
	Replicas        []Endpoint    `yaml:"replicas"`
	LoadBalancing   string        `yaml:"load_balancing"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// Endpoint is one database server. DSN, when set, is used verbatim; Path
// is the database file for sqlite.
type Endpoint struct {
	Name     string `yaml:"name"`
	DSN      string `yaml:"dsn"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	Path     string `yaml:"path"`
	Weight   int    `yaml:"weight"`
}

type Cache struct {
	Backend      string        `yaml:"backend"`
	KeyPrefix    string        `yaml:"key_prefix"`
	DefaultTTL   time.Duration `yaml:"default_ttl"`
	SingleFlight bool          `yaml:"single_flight"`
	Redis        Redis         `yaml:"redis"`
	Memory       Memory        `yaml:"memory"`
}

type Redis struct {
	Addrs    []string `yaml:"addrs"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
}

// Memory sizes the in-process store. MaxCost is in bytes.
type Memory struct {
	MaxCost     int64 `yaml:"max_cost"`
	NumCounters int64 `yaml:"num_counters"`
}

type Log struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads, expands, parses and validates the file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(b)
}

// Parse is Load without the file.
func Parse(b []byte) (*Config, error) {
	dec := yaml.NewDecoder(bytes.NewReader([]byte(os.ExpandEnv(string(b)))))
	dec.KnownFields(true)

	var c Config
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	c.setDefaults()
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &c, nil
}

func (c *Config) setDefaults() {
	d := &c.Database
	if d.Driver == "" {
		d.Driver = DriverPgx
	}
	if d.LoadBalancing == "" {
		d.LoadBalancing = string(router.RoundRobin)
	}

	cc := &c.Cache
	if cc.Backend == "" {
		cc.Backend = BackendMemory
	}
	if cc.KeyPrefix == "" {
		cc.KeyPrefix = defaultKeyPrefix
	}
	if cc.DefaultTTL == 0 {
		cc.DefaultTTL = defaultTTL
	}
	if cc.Memory.MaxCost == 0 {
		cc.Memory.MaxCost = defaultMaxCost
	}
	if cc.Memory.NumCounters == 0 {
		cc.Memory.NumCounters = defaultNumCounters
	}

	if c.Log.Level == "" {
		c.Log.Level = defaultLogLevel
	}
}

// Validate implements validation.Validatable.
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Database),
		validation.Field(&c.Cache),
		validation.Field(&c.Log),
	)
}

func (d Database) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Driver, validation.Required,
			validation.In(DriverPgx, DriverPostgres, DriverSqlite)),
		validation.Field(&d.Primary, validation.By(addressable)),
		validation.Field(&d.Replicas, validation.Each(validation.By(addressable))),
		validation.Field(&d.LoadBalancing, validation.By(func(v interface{}) error {
			_, err := router.ParsePolicy(v.(string))
			return err
		})),
		validation.Field(&d.MaxOpenConns, validation.Min(0)),
		validation.Field(&d.MaxIdleConns, validation.Min(0)),
		validation.Field(&d.ConnMaxLifetime, validation.Min(time.Duration(0))),
	)
}

func (e Endpoint) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&e.Weight, validation.Min(0)),
	)
}

// addressable requires an endpoint to say where the database is.
func addressable(v interface{}) error {
	e, _ := v.(Endpoint)
	if e.DSN == "" && e.Host == "" && e.Path == "" {
		return errors.New("one of dsn, host or path is required")
	}
	return nil
}

func (c Cache) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Backend, validation.Required,
			validation.In(BackendRedis, BackendMemory, BackendNone)),
		validation.Field(&c.KeyPrefix, validation.Required,
			validation.By(func(v interface{}) error {
				if strings.ContainsAny(v.(string), "*: ") {
					return errors.New("must not contain '*', ':' or spaces")
				}
				return nil
			})),
		validation.Field(&c.DefaultTTL, validation.Min(time.Second)),
		validation.Field(&c.Redis, validation.When(c.Backend == BackendRedis,
			validation.By(func(v interface{}) error {
				if len(v.(Redis).Addrs) == 0 {
					return errors.New("addrs is required for the redis backend")
				}
				return nil
			}))),
		validation.Field(&c.Memory),
	)
}

func (r Redis) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Addrs, validation.Each(is.DialString)),
		validation.Field(&r.DB, validation.Min(0)),
	)
}

func (m Memory) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.MaxCost, validation.Min(int64(1))),
		validation.Field(&m.NumCounters, validation.Min(int64(1))),
	)
}

func (l Log) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.Level, validation.By(func(v interface{}) error {
			_, err := zapcore.ParseLevel(v.(string))
			return err
		})),
	)
}

// RouterConfig turns the database section into a router configuration.
func (c *Config) RouterConfig() router.Config {
	d := c.Database
	pool := router.PoolConfig{
		MaxOpenConns:    d.MaxOpenConns,
		MaxIdleConns:    d.MaxIdleConns,
		ConnMaxLifetime: d.ConnMaxLifetime,
	}

	target := func(e Endpoint) router.Target {
		return router.Target{
			Name:   e.Name,
			Driver: d.Driver,
			DSN:    e.dsn(d.Driver),
			Weight: e.Weight,
			Pool:   pool,
		}
	}

	rc := router.Config{
		Primary:       target(d.Primary),
		LoadBalancing: router.Policy(d.LoadBalancing),
	}
	for _, e := range d.Replicas {
		rc.Replicas = append(rc.Replicas, target(e))
	}
	return rc
}

// dsn renders a pgx key/value connection string, or the file path for
// sqlite.
func (e Endpoint) dsn(driver string) string {
	if e.DSN != "" {
		return e.DSN
	}
	if driver == DriverSqlite {
		return e.Path
	}

	kv := map[string]string{
		"host":     e.Host,
		"user":     e.User,
		"password": e.Password,
		"dbname":   e.Database,
		"sslmode":  e.SSLMode,
	}
	if e.Port != 0 {
		kv["port"] = strconv.Itoa(e.Port)
	}

	keys := make([]string, 0, len(kv))
	for k, v := range kv {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + quoteDSN(kv[k])
	}
	return strings.Join(parts, " ")
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Logger builds a zap logger from the log section.
func (l Log) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
