package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/haldenbank/corebank/internal/domain"
)

// Postgres is the pgx-backed Store. PostUnit maps to a multi-statement
// database transaction with the account row locked FOR UPDATE, which both
// serializes concurrent postings per account and makes the unit
// all-or-nothing.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects a pool and verifies it with a ping.
func NewPostgres(ctx context.Context, connString string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

const txColumns = `id, reference, user_id, type, currency, account_type, amount, status,
	description, posted, posted_at, date, edited_date_by_admin, original_date,
	reviewed_by, reviewed_at, rejection_reason, transfer, created_at`

func (p *Postgres) CreateAccount(ctx context.Context, acc *domain.Account) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, checking, savings, investment, eur_balance, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, now(), now())`,
		acc.UserID, acc.Checking, acc.Savings, acc.Investment, acc.EURBalance)
	return err
}

func (p *Postgres) GetAccount(ctx context.Context, userID string) (*domain.Account, error) {
	return scanAccount(p.pool.QueryRow(ctx,
		`SELECT user_id, checking, savings, investment, eur_balance, created_at, updated_at
		 FROM accounts WHERE user_id = $1`, userID))
}

func (p *Postgres) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	transfer, err := marshalTransfer(tx.Transfer)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO transactions (`+txColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,now())`,
		tx.ID, tx.Reference, tx.UserID, tx.Type, tx.Currency, tx.AccountType, tx.Amount,
		tx.Status, tx.Description, tx.Posted, tx.PostedAt, tx.Date, tx.EditedDateByAdmin,
		tx.OriginalDate, tx.ReviewedBy, tx.ReviewedAt, tx.RejectionReason, transfer)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrDuplicateReference
		}
		return fmt.Errorf("transaction insert failed: %w", err)
	}
	return nil
}

func (p *Postgres) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return scanTransaction(p.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
}

func (p *Postgres) GetTransactionByReference(ctx context.Context, ref string) (*domain.Transaction, error) {
	return scanTransaction(p.pool.QueryRow(ctx,
		`SELECT `+txColumns+` FROM transactions WHERE reference = $1`, ref))
}

func (p *Postgres) UpdateTransaction(ctx context.Context, tx *domain.Transaction) error {
	return updateTransaction(ctx, p.pool, tx)
}

func (p *Postgres) UpsertHistory(ctx context.Context, userID string, e domain.HistoryEntry) error {
	return upsertHistoryRow(ctx, p.pool, userID, e)
}

func (p *Postgres) ListHistory(ctx context.Context, userID string, f domain.HistoryFilter, pg domain.Page) ([]domain.HistoryEntry, domain.Totals, error) {
	where := `WHERE user_id = $1
		AND ($2 = '' OR account_type = $2)
		AND ($3 = '' OR type = $3)
		AND ($4 = '' OR status = $4)
		AND ($5::timestamptz IS NULL OR date >= $5)
		AND ($6::timestamptz IS NULL OR date <= $6)`
	args := []any{userID, string(f.AccountType), string(f.Type), string(f.Status),
		nullTime(f.From), nullTime(f.To)}

	totals := domain.Totals{Credits: decimal.Zero, Debits: decimal.Zero}
	err := p.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount) FILTER (WHERE type IN ('deposit','interest','adjustment_credit','transfer_in')), 0),
		        COALESCE(SUM(amount) FILTER (WHERE type NOT IN ('deposit','interest','adjustment_credit','transfer_in')), 0)
		 FROM history `+where, args...).Scan(&totals.Credits, &totals.Debits)
	if err != nil {
		return nil, totals, fmt.Errorf("history totals failed: %w", err)
	}

	limit := pg.Limit
	if limit <= 0 {
		limit = domain.HistoryCap
	}
	rows, err := p.pool.Query(ctx,
		`SELECT transaction_id, reference, type, account_type, currency, amount, status,
		        description, date, balance_after
		 FROM history `+where+` ORDER BY position DESC LIMIT $7 OFFSET $8`,
		append(args, limit, pg.Offset)...)
	if err != nil {
		return nil, totals, fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		if err := rows.Scan(&e.TransactionID, &e.Reference, &e.Type, &e.AccountType,
			&e.Currency, &e.Amount, &e.Status, &e.Description, &e.Date, &e.BalanceAfter); err != nil {
			return nil, totals, err
		}
		entries = append(entries, e)
	}
	return entries, totals, rows.Err()
}

func (p *Postgres) PostUnit(ctx context.Context, userID string, fn func(Unit) error) error {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the account row; concurrent units on the same account queue here.
	var exists bool
	err = tx.QueryRow(ctx,
		`SELECT true FROM accounts WHERE user_id = $1 FOR UPDATE`, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrAccountNotFound
		}
		return fmt.Errorf("account lock failed: %w", err)
	}

	if err := fn(&pgUnit{ctx: ctx, tx: tx, userID: userID}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

// pgUnit runs every statement on the open transaction holding the account
// row lock.
type pgUnit struct {
	ctx    context.Context
	tx     pgx.Tx
	userID string
}

func (u *pgUnit) GetTransaction(id string) (*domain.Transaction, error) {
	return scanTransaction(u.tx.QueryRow(u.ctx,
		`SELECT `+txColumns+` FROM transactions WHERE id = $1`, id))
}

func (u *pgUnit) UpdateTransaction(tx *domain.Transaction) error {
	return updateTransaction(u.ctx, u.tx, tx)
}

func (u *pgUnit) ApplyBalanceDelta(t domain.AccountType, delta decimal.Decimal) (decimal.Decimal, error) {
	col := balanceColumn(t)
	var after decimal.Decimal
	err := u.tx.QueryRow(u.ctx,
		`UPDATE accounts SET `+col+` = `+col+` + $1, updated_at = now()
		 WHERE user_id = $2 RETURNING `+col,
		delta, u.userID).Scan(&after)
	if err != nil {
		return decimal.Zero, fmt.Errorf("balance update failed: %w", err)
	}
	return after, nil
}

func (u *pgUnit) ApplyEURDelta(delta decimal.Decimal) (decimal.Decimal, error) {
	var after decimal.Decimal
	err := u.tx.QueryRow(u.ctx,
		`UPDATE accounts SET eur_balance = eur_balance + $1, updated_at = now()
		 WHERE user_id = $2 RETURNING eur_balance`,
		delta, u.userID).Scan(&after)
	if err != nil {
		return decimal.Zero, fmt.Errorf("eur balance update failed: %w", err)
	}
	return after, nil
}

func (u *pgUnit) UpsertHistory(e domain.HistoryEntry) error {
	return upsertHistoryRow(u.ctx, u.tx, u.userID, e)
}

// querier is the subset of pgx shared by pool and tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func updateTransaction(ctx context.Context, q querier, tx *domain.Transaction) error {
	transfer, err := marshalTransfer(tx.Transfer)
	if err != nil {
		return err
	}
	tag, err := q.Exec(ctx,
		`UPDATE transactions SET status=$2, description=$3, posted=$4, posted_at=$5,
		 date=$6, edited_date_by_admin=$7, original_date=$8, reviewed_by=$9,
		 reviewed_at=$10, rejection_reason=$11, transfer=$12
		 WHERE id = $1`,
		tx.ID, tx.Status, tx.Description, tx.Posted, tx.PostedAt, tx.Date,
		tx.EditedDateByAdmin, tx.OriginalDate, tx.ReviewedBy, tx.ReviewedAt,
		tx.RejectionReason, transfer)
	if err != nil {
		return fmt.Errorf("transaction update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}

func upsertHistoryRow(ctx context.Context, q querier, userID string, e domain.HistoryEntry) error {
	_, err := q.Exec(ctx,
		`INSERT INTO history (user_id, transaction_id, reference, type, account_type,
		   currency, amount, status, description, date, balance_after)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (user_id, transaction_id) DO UPDATE SET
		   status = EXCLUDED.status, date = EXCLUDED.date,
		   balance_after = EXCLUDED.balance_after`,
		userID, e.TransactionID, e.Reference, e.Type, e.AccountType, e.Currency,
		e.Amount, e.Status, e.Description, e.Date, e.BalanceAfter)
	if err != nil {
		return fmt.Errorf("history upsert failed: %w", err)
	}
	// Evict past the cap, oldest first.
	_, err = q.Exec(ctx,
		`DELETE FROM history WHERE user_id = $1 AND position NOT IN (
		   SELECT position FROM history WHERE user_id = $1
		   ORDER BY position DESC LIMIT $2)`,
		userID, domain.HistoryCap)
	if err != nil {
		return fmt.Errorf("history eviction failed: %w", err)
	}
	return nil
}

func balanceColumn(t domain.AccountType) string {
	switch domain.NormalizeAccountType(t) {
	case domain.AccountSavings:
		return "savings"
	case domain.AccountInvestment:
		return "investment"
	default:
		return "checking"
	}
}

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var acc domain.Account
	err := row.Scan(&acc.UserID, &acc.Checking, &acc.Savings, &acc.Investment,
		&acc.EURBalance, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, err
	}
	return &acc, nil
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var transfer []byte
	err := row.Scan(&tx.ID, &tx.Reference, &tx.UserID, &tx.Type, &tx.Currency,
		&tx.AccountType, &tx.Amount, &tx.Status, &tx.Description, &tx.Posted,
		&tx.PostedAt, &tx.Date, &tx.EditedDateByAdmin, &tx.OriginalDate,
		&tx.ReviewedBy, &tx.ReviewedAt, &tx.RejectionReason, &transfer, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	if len(transfer) > 0 {
		tx.Transfer = &domain.TransferDetails{}
		if err := json.Unmarshal(transfer, tx.Transfer); err != nil {
			return nil, fmt.Errorf("transfer metadata decode failed: %w", err)
		}
	}
	return &tx, nil
}

func marshalTransfer(d *domain.TransferDetails) ([]byte, error) {
	if d == nil {
		return nil, nil
	}
	b, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("transfer metadata encode failed: %w", err)
	}
	return b, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
