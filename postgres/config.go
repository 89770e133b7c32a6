package postgres

import (
	"github.com/public-forge/go-pg-sidecart/config"
	"math"
	"net"
	"net/url"
	"strconv"
	"time"
)

const (
	// ApplicationName is reported to the server as application_name.
	ApplicationName = "sidecart"

	defaultMinConnections = 1
	defaultMaxConnections = 5
	defaultConnectTimeout = 10 * time.Second
)

// PgConfig holds the configuration settings required to connect to a PostgreSQL database.
type PgConfig struct {
	Host                  string        // Host is the database server address (e.g., "localhost" or an IP).
	Port                  int           // Port is the server TCP port.
	DBName                string        // DBName is the name of the specific database to connect to.
	Schema                string        // Schema is placed on the search_path (often "public").
	User                  string        // User is the username for authenticating to the database.
	Password              string        // Password is the password for the specified User.
	SSLMode               string        // SSLMode is passed to the driver as sslmode (e.g., "require").
	ConnectTimeout        time.Duration // ConnectTimeout bounds dialing, the startup ping and each statement.
	MinConnections        int           // MinConnections are opened eagerly by Initialize.
	MaxOpenConnections    int           // MaxOpenConnections caps connections issued at the same time.
	ConnectionMaxLifetime time.Duration // ConnectionMaxLifetime recycles connections older than this; 0 disables.
}

// NewPgConfig converts the environment-level connection settings.
func NewPgConfig(cc config.ConnectionConfig) *PgConfig {
	return &PgConfig{
		Host:                  cc.Host,
		Port:                  cc.Port,
		DBName:                cc.Database,
		Schema:                cc.Schema,
		User:                  cc.Username,
		Password:              cc.Password.Reveal(),
		SSLMode:               string(cc.SSLMode),
		ConnectTimeout:        cc.ConnectTimeout,
		MinConnections:        cc.MinConns,
		MaxOpenConnections:    cc.MaxConns,
		ConnectionMaxLifetime: cc.ConnMaxLifetime,
	}
}

// DSN renders the connection URL understood by lib/pq.
func (c *PgConfig) DSN() string {
	return c.url().String()
}

// Redacted is the DSN with the password masked, safe for logs.
func (c *PgConfig) Redacted() string {
	return c.url().Redacted()
}

// Address is host:port.
func (c *PgConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// url builds the lib/pq connection URL. The password stays in the userinfo.
func (c *PgConfig) url() *url.URL {
	q := url.Values{}
	q.Set("application_name", ApplicationName)
	q.Set("connect_timeout", strconv.Itoa(c.connectTimeoutSeconds()))
	if c.Schema != "" {
		q.Set("search_path", c.Schema)
	}
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	return &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Address(),
		Path:     "/" + c.DBName,
		RawQuery: q.Encode(),
	}
}

// connect_timeout is in whole seconds and 0 means no limit, so round up.
func (c *PgConfig) connectTimeoutSeconds() int {
	return int(math.Ceil(c.timeout().Seconds()))
}

// timeout is ConnectTimeout, or 10s when unset.
func (c *PgConfig) timeout() time.Duration {
	if c.ConnectTimeout <= 0 {
		return defaultConnectTimeout
	}
	return c.ConnectTimeout
}

// minConnections never exceeds maxConnections.
func (c *PgConfig) minConnections() int {
	if c.MinConnections < 0 {
		return defaultMinConnections
	}
	return min(c.MinConnections, c.maxConnections())
}

// maxConnections is MaxOpenConnections, or 5 when unset.
func (c *PgConfig) maxConnections() int {
	if c.MaxOpenConnections <= 0 {
		return defaultMaxConnections
	}
	return c.MaxOpenConnections
}
