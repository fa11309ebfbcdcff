// ABOUTME: Connection settings for the Fabric / Azure SQL warehouse
// ABOUTME: Supports SQL authentication and Azure AD service principals
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	_ "github.com/microsoft/go-mssqldb"         // SQL Server driver
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support
)

// Auth methods
const (
	AuthSQL              = "sql"
	AuthServicePrincipal = "service_principal"
)

// Config contains warehouse connection options.
type Config struct {
	Host     string
	Port     int
	Database string
	Schema   string

	// AuthMethod is "sql" or "service_principal"
	AuthMethod string

	Username string
	Password string

	TenantID     string
	ClientID     string
	ClientSecret string

	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// Validate checks that the fields needed by the auth method are present.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	switch c.AuthMethod {
	case AuthSQL:
		if c.Username == "" {
			return fmt.Errorf("username is required for sql auth")
		}
	case AuthServicePrincipal:
		if c.TenantID == "" || c.ClientID == "" || c.ClientSecret == "" {
			return fmt.Errorf("tenant_id, client_id and client_secret are required for service_principal auth")
		}
	default:
		return fmt.Errorf("unsupported auth method: %q", c.AuthMethod)
	}
	return nil
}

func (c *Config) port() int {
	if c.Port == 0 {
		return DefaultPort()
	}
	return c.Port
}

// ConnString returns the driver name and DSN for cfg.
func ConnString(cfg *Config) (string, string, error) {
	if err := cfg.Validate(); err != nil {
		return "", "", fmt.Errorf("invalid config: %w", err)
	}

	query := url.Values{}
	query.Add("database", cfg.Database)
	if cfg.Encrypt {
		query.Add("encrypt", "true")
	} else {
		query.Add("encrypt", "false")
	}
	if cfg.TrustServerCertificate {
		query.Add("TrustServerCertificate", "true")
	}
	if cfg.ConnectionTimeout > 0 {
		query.Add("connection timeout", fmt.Sprintf("%d", cfg.ConnectionTimeout))
	}

	switch cfg.AuthMethod {
	case AuthServicePrincipal:
		query.Add("fedauth", "ActiveDirectoryServicePrincipal")
		query.Add("user id", cfg.ClientID)
		query.Add("password", cfg.ClientSecret)
		query.Add("tenant id", cfg.TenantID)
		return "azuresql", fmt.Sprintf("sqlserver://%s:%d?%s", cfg.Host, cfg.port(), query.Encode()), nil
	default:
		return "sqlserver", fmt.Sprintf("sqlserver://%s:%s@%s:%d?%s",
			url.QueryEscape(cfg.Username),
			url.QueryEscape(cfg.Password),
			cfg.Host,
			cfg.port(),
			query.Encode(),
		), nil
	}
}

// Open connects to the warehouse and verifies the connection.
func Open(ctx context.Context, cfg *Config) (*sql.DB, error) {
	driver, dsn, err := ConnString(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open warehouse connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("warehouse connection test failed: %w", err)
	}
	return db, nil
}

// Tables holds fully qualified table names for a schema.
type Tables struct {
	ScanSessions          string
	DetectedOpportunities string
	OpportunityActions    string
	Opportunities         string
	PartnerReferrals      string
}

// TablesFor returns the table names in schema, defaulting to dbo.
func TablesFor(schema string) Tables {
	if schema == "" {
		schema = "dbo"
	}
	return Tables{
		ScanSessions:          schema + ".ScanSessions",
		DetectedOpportunities: schema + ".DetectedOpportunities",
		OpportunityActions:    schema + ".OpportunityActions",
		Opportunities:         schema + "._Opportunities",
		PartnerReferrals:      schema + "._PartnerReferralData",
	}
}
