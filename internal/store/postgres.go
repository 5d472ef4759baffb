package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/pressly/goose/v3"

	"payment-engine/internal/config"
	"payment-engine/internal/payment"
)

const uniqueViolation = "23505"

func ConnString(cfg config.Database) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Name, cfg.SSLMode)
}

func RunMigrations(connStr, migrationsDir string) error {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return errors.Wrap(err, "opening migration connection")
	}
	defer db.Close()

	if err := goose.Up(db, migrationsDir); err != nil {
		return errors.Wrap(err, "running migrations")
	}
	return nil
}

func GetPool(connStr string) (*pgxpool.Pool, error) {
	dbpool, err := pgxpool.New(context.Background(), connStr)
	if err != nil {
		return nil, err
	}
	return dbpool, nil
}

// PostgresStore implements Store on top of a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const paymentColumns = `id, reference, amount, currency, description, customer_email,
	webhook_url, status, failure_reason, rule_triggered, fraud_flag, retry_count,
	processing_started_at, completed_at, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, p *payment.Payment) error {
	query := `INSERT INTO payment (` + paymentColumns + `)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.Reference, p.Amount, p.Currency, p.Description, p.CustomerEmail,
		p.WebhookURL, p.Status, p.FailureReason, p.RuleTriggered, p.FraudFlag, p.RetryCount,
		p.ProcessingStartedAt, p.CompletedAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateReference
		}
		return errors.Wrap(err, "inserting payment")
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment WHERE id = $1`
	p, err := s.scanPayment(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	p.Events, err = s.events(ctx, id)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) GetByReference(ctx context.Context, reference string) (*payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment WHERE reference = $1`
	p, err := s.scanPayment(s.pool.QueryRow(ctx, query, reference))
	if err != nil {
		return nil, err
	}

	p.Events, err = s.events(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) Update(ctx context.Context, p *payment.Payment, e *payment.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "starting transaction")
	}
	defer tx.Rollback(ctx)

	query := `UPDATE payment
	          SET status = $2, failure_reason = $3, rule_triggered = $4, fraud_flag = $5,
	              retry_count = $6, processing_started_at = $7, completed_at = $8, updated_at = $9
	          WHERE id = $1`
	tag, err := tx.Exec(ctx, query,
		p.ID, p.Status, p.FailureReason, p.RuleTriggered, p.FraudFlag,
		p.RetryCount, p.ProcessingStartedAt, p.CompletedAt, p.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, "updating payment")
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	eventQuery := `INSERT INTO payment_event (id, payment_id, from_status, to_status, reason, created_at)
	               VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = tx.Exec(ctx, eventQuery, e.ID, e.PaymentID, e.From, e.To, e.Reason, e.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "inserting payment event")
	}

	return errors.Wrap(tx.Commit(ctx), "committing transaction")
}

func (s *PostgresStore) List(ctx context.Context, filter Filter) ([]*payment.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payment`
	args := []any{}
	if filter.Status != "" {
		query += ` WHERE status = $1`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET %d`, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing payments")
	}
	defer rows.Close()

	var result []*payment.Payment
	for rows.Next() {
		p, err := s.scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *PostgresStore) scanPayment(row pgx.Row) (*payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(&p.ID, &p.Reference, &p.Amount, &p.Currency, &p.Description, &p.CustomerEmail,
		&p.WebhookURL, &p.Status, &p.FailureReason, &p.RuleTriggered, &p.FraudFlag, &p.RetryCount,
		&p.ProcessingStartedAt, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scanning payment")
	}
	return &p, nil
}

func (s *PostgresStore) events(ctx context.Context, paymentID uuid.UUID) ([]payment.Event, error) {
	query := `SELECT id, payment_id, from_status, to_status, reason, created_at
	          FROM payment_event WHERE payment_id = $1 ORDER BY created_at`
	rows, err := s.pool.Query(ctx, query, paymentID)
	if err != nil {
		return nil, errors.Wrap(err, "listing payment events")
	}
	defer rows.Close()

	var events []payment.Event
	for rows.Next() {
		var e payment.Event
		if err := rows.Scan(&e.ID, &e.PaymentID, &e.From, &e.To, &e.Reason, &e.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scanning payment event")
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
