package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"gym-coach-bot/internal/models"
	"gym-coach-bot/internal/storage"
)

const uniqueViolation = "23505"

// Postgres implements storage.Store on a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(cfg struct {
	Host         string
	Port         string
	User         string
	Password     string
	DBName       string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
	ConnLifetime time.Duration
}) (*Postgres, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode, cfg.MaxOpenConns,
	)

	poolConfig, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DB connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnLifetime
	poolConfig.MaxConnIdleTime = 15 * time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.ConnectConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Postgres{pool: pool}, nil
}

func (db *Postgres) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

func (db *Postgres) SaveProfile(ctx context.Context, p *models.Profile) error {
	query := `
        INSERT INTO profiles (tenant_id, user_id, chat_id, username, full_name,
                              age, height_cm, weight_kg, gender, goal,
                              dietary_restrictions, preferred_foods)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
        ON CONFLICT (tenant_id, user_id) DO UPDATE
        SET chat_id = $3, username = $4, full_name = $5, age = $6,
            height_cm = $7, weight_kg = $8, gender = $9, goal = $10,
            dietary_restrictions = $11, preferred_foods = $12, updated_at = NOW()
    `

	_, err := db.pool.Exec(ctx, query,
		p.TenantID, p.UserID, p.ChatID, p.Username, p.FullName,
		p.Age, p.HeightCm, p.WeightKg, p.Gender, p.Goal,
		p.DietaryRestrictions, p.PreferredFoods,
	)
	return err
}

func (db *Postgres) GetProfile(ctx context.Context, tenantID string, userID int64) (*models.Profile, error) {
	query := `
        SELECT tenant_id, user_id, chat_id, username, full_name, age, height_cm,
               weight_kg, gender, goal, dietary_restrictions, preferred_foods,
               created_at, updated_at
        FROM profiles
        WHERE tenant_id = $1 AND user_id = $2
    `

	var p models.Profile
	err := db.pool.QueryRow(ctx, query, tenantID, userID).Scan(
		&p.TenantID, &p.UserID, &p.ChatID, &p.Username, &p.FullName,
		&p.Age, &p.HeightCm, &p.WeightKg, &p.Gender, &p.Goal,
		&p.DietaryRestrictions, &p.PreferredFoods, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *Postgres) CreatePendingEntitlement(ctx context.Context, e *models.Entitlement) error {
	query := `
        INSERT INTO entitlements (id, tenant_id, user_id, plan_type, source,
                                  status, amount_toman, amount_ton, reference)
        VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7, $8)
        RETURNING created_at
    `

	err := db.pool.QueryRow(ctx, query,
		e.ID, e.TenantID, e.UserID, e.PlanType, e.Source,
		e.AmountToman, e.AmountTon, e.Reference,
	).Scan(&e.CreatedAt)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.ErrClaimInProgress
	}
	if err != nil {
		return err
	}
	e.Status = models.StatusPending
	return nil
}

const entitlementColumns = `id, tenant_id, user_id, plan_type, source, status,
        amount_toman, amount_ton, reference, created_at, decided_at`

func scanEntitlement(row pgx.Row) (*models.Entitlement, error) {
	var e models.Entitlement
	err := row.Scan(
		&e.ID, &e.TenantID, &e.UserID, &e.PlanType, &e.Source, &e.Status,
		&e.AmountToman, &e.AmountTon, &e.Reference, &e.CreatedAt, &e.DecidedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (db *Postgres) GetEntitlement(ctx context.Context, tenantID, id string) (*models.Entitlement, error) {
	query := `SELECT ` + entitlementColumns + ` FROM entitlements WHERE tenant_id = $1 AND id = $2`
	return scanEntitlement(db.pool.QueryRow(ctx, query, tenantID, id))
}

func (db *Postgres) ActiveEntitlement(ctx context.Context, tenantID string, userID int64, planType models.PlanType) (*models.Entitlement, error) {
	query := `
        SELECT ` + entitlementColumns + `
        FROM entitlements
        WHERE tenant_id = $1 AND user_id = $2 AND plan_type = $3 AND status = 'approved'
        ORDER BY created_at
        LIMIT 1
    `
	return scanEntitlement(db.pool.QueryRow(ctx, query, tenantID, userID, planType))
}

func (db *Postgres) PendingEntitlements(ctx context.Context, tenantID string) ([]*models.Entitlement, error) {
	query := `
        SELECT ` + entitlementColumns + `
        FROM entitlements
        WHERE tenant_id = $1 AND status = 'pending'
        ORDER BY created_at
    `

	rows, err := db.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Entitlement
	for rows.Next() {
		e, err := scanEntitlement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (db *Postgres) DecideEntitlement(ctx context.Context, tenantID, id string, outcome models.EntitlementStatus) (*models.Entitlement, error) {
	if outcome != models.StatusApproved && outcome != models.StatusRejected {
		return nil, storage.ErrNotApproved
	}

	query := `
        UPDATE entitlements
        SET status = $3, decided_at = NOW()
        WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
        RETURNING ` + entitlementColumns

	e, err := scanEntitlement(db.pool.QueryRow(ctx, query, tenantID, id, outcome))
	if errors.Is(err, storage.ErrNotFound) {
		// Already decided, or never existed. Duplicate decisions are a
		// no-op returning the current state.
		return db.GetEntitlement(ctx, tenantID, id)
	}
	return e, err
}

func (db *Postgres) ConsumeEntitlement(ctx context.Context, tenantID, id string) (*models.Entitlement, error) {
	query := `
        UPDATE entitlements
        SET status = 'consumed'
        WHERE tenant_id = $1 AND id = $2 AND status = 'approved'
        RETURNING ` + entitlementColumns

	e, err := scanEntitlement(db.pool.QueryRow(ctx, query, tenantID, id))
	if errors.Is(err, storage.ErrNotFound) {
		if _, getErr := db.GetEntitlement(ctx, tenantID, id); getErr != nil {
			return nil, getErr
		}
		return nil, storage.ErrNotApproved
	}
	return e, err
}

func (db *Postgres) ExpirePendingBefore(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
        UPDATE entitlements
        SET status = 'rejected', decided_at = NOW()
        WHERE status = 'pending' AND created_at < $1
    `

	ct, err := db.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (db *Postgres) GetPlan(ctx context.Context, tenantID, fingerprint string) (*models.Plan, error) {
	query := `
        SELECT tenant_id, fingerprint, user_id, plan_type, plan_text, provider, model, created_at
        FROM plans
        WHERE tenant_id = $1 AND fingerprint = $2
    `

	var p models.Plan
	err := db.pool.QueryRow(ctx, query, tenantID, fingerprint).Scan(
		&p.TenantID, &p.Fingerprint, &p.UserID, &p.PlanType,
		&p.Text, &p.Provider, &p.Model, &p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *Postgres) PutPlan(ctx context.Context, p *models.Plan) error {
	// First writer wins: a concurrent insert for the same fingerprint keeps
	// the stored plan.
	query := `
        INSERT INTO plans (tenant_id, fingerprint, user_id, plan_type, plan_text, provider, model)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        ON CONFLICT (tenant_id, fingerprint) DO NOTHING
    `

	_, err := db.pool.Exec(ctx, query,
		p.TenantID, p.Fingerprint, p.UserID, p.PlanType, p.Text, p.Provider, p.Model,
	)
	return err
}

func (db *Postgres) AcquireClaim(ctx context.Context, tenantID, fingerprint string, ttl time.Duration) (bool, error) {
	now := time.Now()
	query := `
        INSERT INTO generation_claims (tenant_id, fingerprint, acquired_at, expires_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (tenant_id, fingerprint) DO UPDATE
        SET acquired_at = $3, expires_at = $4
        WHERE generation_claims.expires_at <= $3
    `

	ct, err := db.pool.Exec(ctx, query, tenantID, fingerprint, now, now.Add(ttl))
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() > 0, nil
}

func (db *Postgres) ReleaseClaim(ctx context.Context, tenantID, fingerprint string) error {
	query := `DELETE FROM generation_claims WHERE tenant_id = $1 AND fingerprint = $2`
	_, err := db.pool.Exec(ctx, query, tenantID, fingerprint)
	return err
}

var _ storage.Store = (*Postgres)(nil)
