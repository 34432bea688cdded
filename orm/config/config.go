// Package config 加载数据库连接配置
// 优先级从低到高：默认值，YAML 文件，SCRUDGE_ 开头的环境变量
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "SCRUDGE_"

// Config 一个数据库的连接配置，启动的时候读取一次
type Config struct {
	// Driver database/sql 的驱动名，sqlite3 sqlite mysql pgx postgres
	Driver string `koanf:"driver"`
	// DSN 不为空的时候直接使用，忽略 Host 之类的字段
	DSN      string            `koanf:"dsn"`
	Host     string            `koanf:"host"`
	Port     int               `koanf:"port"`
	User     string            `koanf:"user"`
	Password string            `koanf:"password"`
	Database string            `koanf:"database"`
	Params   map[string]string `koanf:"params"`

	PoolSize       int           `koanf:"pool_size"`
	AcquireTimeout time.Duration `koanf:"acquire_timeout"`
	// Ping 借出连接之前先 ping 一下
	Ping           bool          `koanf:"ping"`
	RetryAttempts  int           `koanf:"retry_attempts"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
	StatementCache int           `koanf:"statement_cache"`
}

// Defaults 没有任何配置的时候使用的值
func Defaults() map[string]any {
	return map[string]any{
		"driver":          "sqlite3",
		"database":        ":memory:",
		"pool_size":       10,
		"acquire_timeout": "30s",
		"ping":            true,
		"retry_attempts":  3,
		"retry_backoff":   "50ms",
		"statement_cache": 0,
	}
}

// Load path 为空的时候只读默认值和环境变量
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: error reading config file %s: %w", path, err)
		}
	}
	// SCRUDGE_POOL_SIZE -> pool_size
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("config: failed to load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errList []error
	switch c.Driver {
	case "sqlite3", "sqlite", "mysql", "pgx", "postgres":
	case "":
		errList = append(errList, errors.New("config: driver is required"))
	default:
		errList = append(errList, fmt.Errorf("config: unsupported driver %q", c.Driver))
	}
	if c.PoolSize <= 0 {
		errList = append(errList, fmt.Errorf("config: pool_size must be positive, got %d", c.PoolSize))
	}
	if c.AcquireTimeout < 0 {
		errList = append(errList, fmt.Errorf("config: acquire_timeout must not be negative, got %s", c.AcquireTimeout))
	}
	if c.RetryAttempts < 1 {
		errList = append(errList, fmt.Errorf("config: retry_attempts must be at least 1, got %d", c.RetryAttempts))
	}
	if c.Port < 0 || c.Port > 65535 {
		errList = append(errList, fmt.Errorf("config: bad port %d", c.Port))
	}
	return errors.Join(errList...)
}

// DataSourceName 根据驱动拼接 DSN
func (c *Config) DataSourceName() (string, error) {
	if c.DSN != "" {
		return c.DSN, nil
	}
	switch c.Driver {
	case "sqlite3", "sqlite":
		return c.sqliteDSN(), nil
	case "mysql":
		return c.mysqlDSN(), nil
	case "pgx", "postgres":
		return c.postgresDSN()
	}
	return "", fmt.Errorf("config: unsupported driver %q", c.Driver)
}

func (c *Config) sqliteDSN() string {
	if c.Database == ":memory:" || c.Database == "" {
		// 多个连接共享同一个内存数据库
		return "file::memory:?cache=shared"
	}
	if len(c.Params) == 0 {
		return c.Database
	}
	vals := url.Values{}
	for k, v := range c.Params {
		vals.Set(k, v)
	}
	return "file:" + c.Database + "?" + vals.Encode()
}

func (c *Config) mysqlDSN() string {
	mc := mysql.NewConfig()
	mc.User = c.User
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = c.addr(3306)
	mc.DBName = c.Database
	mc.ParseTime = true
	if len(c.Params) > 0 {
		mc.Params = c.Params
	}
	return mc.FormatDSN()
}

func (c *Config) postgresDSN() (string, error) {
	u := url.URL{
		Scheme: "postgres",
		Host:   c.addr(5432),
		Path:   "/" + c.Database,
	}
	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}
	vals := url.Values{}
	for k, v := range c.Params {
		vals.Set(k, v)
	}
	u.RawQuery = vals.Encode()
	dsn := u.String()
	// 提前发现写错的参数
	if _, err := pgx.ParseConfig(dsn); err != nil {
		return "", fmt.Errorf("config: bad postgres dsn: %w", err)
	}
	return dsn, nil
}

func (c *Config) addr(defaultPort int) string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = defaultPort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
