package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openxui/panelsync/internal/models"
)

// IntegrationStore persists per-tenant panel connection settings.
type IntegrationStore struct {
	db *sqlx.DB
}

func NewIntegrationStore(db *sqlx.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

type integrationRow struct {
	ID       int64 `db:"id"`
	TenantID int64 `db:"tenant_id"`

	DBHost     string `db:"db_host"`
	DBPort     int    `db:"db_port"`
	DBName     string `db:"db_name"`
	DBUser     string `db:"db_user"`
	DBPassword string `db:"db_password"`

	XtreamBaseURL  string `db:"xtream_base_url"`
	XtreamUsername string `db:"xtream_username"`
	XtreamPassword string `db:"xtream_password"`

	Options []byte `db:"options"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (row integrationRow) toModel() (*models.Integration, error) {
	opts, err := models.DecodeOptions(row.Options)
	if err != nil {
		return nil, err
	}
	return &models.Integration{
		ID:             row.ID,
		TenantID:       row.TenantID,
		DBHost:         row.DBHost,
		DBPort:         row.DBPort,
		DBName:         row.DBName,
		DBUser:         row.DBUser,
		DBPassword:     row.DBPassword,
		XtreamBaseURL:  row.XtreamBaseURL,
		XtreamUsername: row.XtreamUsername,
		XtreamPassword: row.XtreamPassword,
		Options:        opts,
		CreatedAt:      row.CreatedAt,
		UpdatedAt:      row.UpdatedAt,
	}, nil
}

// Get returns the tenant's integration, or nil when not configured.
// Stored options are merged over the defaults as they load.
func (s *IntegrationStore) Get(ctx context.Context, tenantID int64) (*models.Integration, error) {
	var row integrationRow
	err := s.db.GetContext(ctx, &row,
		`SELECT * FROM integrations WHERE tenant_id = $1`, tenantID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row.toModel()
}

// Upsert creates or replaces the tenant's integration.
func (s *IntegrationStore) Upsert(ctx context.Context, in *models.Integration) (*models.Integration, error) {
	opts, err := json.Marshal(in.Options)
	if err != nil {
		return nil, fmt.Errorf("encode integration options: %w", err)
	}
	var row integrationRow
	err = s.db.GetContext(ctx, &row,
		`INSERT INTO integrations
		   (tenant_id, db_host, db_port, db_name, db_user, db_password,
		    xtream_base_url, xtream_username, xtream_password, options, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		 ON CONFLICT (tenant_id) DO UPDATE SET
		   db_host = EXCLUDED.db_host,
		   db_port = EXCLUDED.db_port,
		   db_name = EXCLUDED.db_name,
		   db_user = EXCLUDED.db_user,
		   db_password = EXCLUDED.db_password,
		   xtream_base_url = EXCLUDED.xtream_base_url,
		   xtream_username = EXCLUDED.xtream_username,
		   xtream_password = EXCLUDED.xtream_password,
		   options = EXCLUDED.options,
		   updated_at = NOW()
		 RETURNING *`,
		in.TenantID, in.DBHost, in.DBPort, in.DBName, in.DBUser, in.DBPassword,
		in.XtreamBaseURL, in.XtreamUsername, in.XtreamPassword, opts)
	if err != nil {
		return nil, fmt.Errorf("upsert integration: %w", err)
	}
	return row.toModel()
}
