// Package publish writes YouTube links back into the website's media table.
package publish

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"vidmigrate/internal"
	"vidmigrate/utils"
)

// Outcomes recorded in the worklist provider_synced column
const (
	StatusUpdated  = "yes"
	StatusNotFound = "not_found"
)

var tableName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// NamedExecer is the slice of *sqlx.DB the publisher needs
type NamedExecer interface {
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

// providerUpdate binds the named parameters of the update statement
type providerUpdate struct {
	ID       int64  `db:"id"`
	Provider string `db:"provider"`
}

// Publisher sets the provider column of one media row at a time
type Publisher struct {
	db    NamedExecer
	query string
}

// New creates a Publisher over db for table
func New(db NamedExecer, table string) (*Publisher, error) {
	if !tableName.MatchString(table) {
		return nil, internal.NewValidationErrorWithValue("publish.table", "table name may only contain letters, digits and underscores", table)
	}
	return &Publisher{
		db:    db,
		query: fmt.Sprintf("UPDATE `%s` SET provider = :provider WHERE id = :id", table),
	}, nil
}

// Open connects to MySQL. Matched rows are reported as affected so re-publishing the
// same URL is not mistaken for a missing id.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	if dsn == "" {
		return nil, internal.NewValidationError("publish.dsn", "database DSN is required").
			WithSuggestion("Set publish.dsn or VIDMIGRATE_PUBLISH_DSN, e.g. user:pass@tcp(localhost:3306)/site")
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, internal.NewValidationError("publish.dsn", fmt.Sprintf("invalid DSN: %v", err))
	}
	cfg.ClientFoundRows = true
	if cfg.Params == nil {
		cfg.Params = map[string]string{}
	}
	if _, ok := cfg.Params["charset"]; !ok {
		cfg.Params["charset"] = "utf8mb4"
	}

	db, err := sqlx.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Publish stores youtubeURL as the provider of media row id. It returns StatusUpdated,
// or StatusNotFound when no row has that id.
func (p *Publisher) Publish(ctx context.Context, id int64, youtubeURL string) (string, error) {
	youtubeURL = strings.TrimSpace(youtubeURL)
	if id <= 0 {
		return "", internal.NewInvalidInputError("id", "must be a positive integer")
	}
	if err := utils.ValidateURL(youtubeURL); err != nil {
		return "", err
	}

	result, err := p.db.NamedExecContext(ctx, p.query, providerUpdate{ID: id, Provider: youtubeURL})
	if err != nil {
		return "", fmt.Errorf("update provider of %d: %w", id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("update provider of %d: %w", id, err)
	}
	if affected == 0 {
		internal.LogWarn("No media row with id %d", id)
		return StatusNotFound, nil
	}
	internal.LogDebug("Published %s for media %d", youtubeURL, id)
	return StatusUpdated, nil
}
