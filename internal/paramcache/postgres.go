package paramcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps fitted parameters in Postgres for deployments
// that already run one and do not want a separate cache tier.
//
// Schema:
//
//	CREATE TABLE forecast_params (
//	  entity_id VARCHAR(255) PRIMARY KEY,
//	  strategy VARCHAR(64) NOT NULL,
//	  params JSONB NOT NULL,
//	  fitted_at TIMESTAMPTZ NOT NULL,
//	  expires_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_forecast_params_expires ON forecast_params(expires_at);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects a pgx pool and verifies the connection.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Get(ctx context.Context, entityID string) (*Params, error) {
	query := `
		SELECT strategy, params, fitted_at
		FROM forecast_params
		WHERE entity_id = $1 AND expires_at > NOW()
	`

	var strategy string
	var valuesJSON []byte
	var fittedAt time.Time
	err := p.pool.QueryRow(ctx, query, entityID).Scan(&strategy, &valuesJSON, &fittedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}

	var values map[string]float64
	if err := json.Unmarshal(valuesJSON, &values); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}
	return &Params{
		EntityID: entityID,
		Strategy: strategy,
		Values:   values,
		FittedAt: fittedAt,
	}, nil
}

func (p *PostgresStore) Set(ctx context.Context, entityID string, params Params, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	valuesJSON, err := json.Marshal(params.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	// last write wins: a fresher fit replaces the stored one
	query := `
		INSERT INTO forecast_params (entity_id, strategy, params, fitted_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (entity_id) DO UPDATE
		SET strategy = EXCLUDED.strategy,
		    params = EXCLUDED.params,
		    fitted_at = EXCLUDED.fitted_at,
		    expires_at = EXCLUDED.expires_at
	`

	_, err = p.pool.Exec(ctx, query, entityID, params.Strategy, valuesJSON,
		params.FittedAt, time.Now().Add(ttl))
	if err != nil {
		return fmt.Errorf("postgres upsert failed: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}

// CleanupExpired removes expired rows, intended for a maintenance job.
func (p *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	result, err := p.pool.Exec(ctx, `DELETE FROM forecast_params WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup failed: %w", err)
	}
	return result.RowsAffected(), nil
}
