package repository

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"wallet-ledger/internal/domain"
	apperrors "wallet-ledger/internal/errors"
)

const recordColumns = `
	id, account_id, counterparty_id, amount, direction, ledger,
	category, status, reference, created_at
`

// TransactionLog is the append-only Postgres audit trail. Records are never
// updated: the table has no write path beyond INSERT.
type TransactionLog struct {
	db     SQLExecutor
	logger *slog.Logger
}

var _ domain.TransactionLog = (*TransactionLog)(nil)

func NewTransactionLog(db SQLExecutor, logger *slog.Logger) *TransactionLog {
	return &TransactionLog{
		db:     db,
		logger: logger,
	}
}

func (l *TransactionLog) Append(ctx context.Context, record *domain.TransactionRecord) error {
	query := `
		INSERT INTO transactions
		(id, account_id, counterparty_id, amount, direction, ledger, category, status, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	now := time.Now().UTC()

	var counterparty interface{}
	if record.CounterpartyID != nil {
		counterparty = *record.CounterpartyID
	}

	_, err := l.db.ExecContext(ctx, query,
		record.ID,
		record.AccountID,
		counterparty,
		record.Amount.String(),
		record.Direction,
		record.Ledger,
		record.Category,
		record.Status,
		record.Reference,
		now,
	)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			if pqErr.Code == "23505" { // unique_violation
				l.logger.Warn("Duplicate reference",
					"account_id", record.AccountID,
					"reference", record.Reference)
				return apperrors.ErrDuplicateReference
			}
		}
		l.logger.Error("Failed to append record",
			"account_id", record.AccountID,
			"reference", record.Reference,
			"error", err)
		return apperrors.NewAppError(apperrors.InternalError, "failed to append record").WithDetails(err.Error())
	}

	record.CreatedAt = now
	l.logger.Info("Record appended",
		"record_id", record.ID,
		"account_id", record.AccountID,
		"direction", record.Direction,
		"amount", record.Amount)
	return nil
}

func (l *TransactionLog) GetRecord(ctx context.Context, id uuid.UUID) (*domain.TransactionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM transactions WHERE id = $1`

	record, err := scanRecordRow(l.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.ErrRecordNotFound
		}
		l.logger.Error("Failed to get record", "record_id", id, "error", err)
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to get record").WithDetails(err.Error())
	}
	return record, nil
}

// GetByReference returns nil, nil when the reference has not been applied,
// so the mutator can distinguish replay from first application.
func (l *TransactionLog) GetByReference(ctx context.Context, accountID uuid.UUID, reference string) (*domain.TransactionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM transactions WHERE account_id = $1 AND reference = $2`

	record, err := scanRecordRow(l.db.QueryRowContext(ctx, query, accountID, reference))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		l.logger.Error("Failed to get record by reference",
			"account_id", accountID, "reference", reference, "error", err)
		return nil, apperrors.NewAppError(apperrors.InternalError, "failed to get record").WithDetails(err.Error())
	}
	return record, nil
}

// listCursor is the keyset position of the last record on a page.
type listCursor struct {
	CreatedAt time.Time `json:"created_at"`
	ID        uuid.UUID `json:"id"`
}

func encodeCursor(c listCursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (listCursor, error) {
	var c listCursor
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(raw, &c); err != nil {
		return c, err
	}
	return c, nil
}

// ListByAccount pages through an account's records newest first. Keyset
// pagination on (created_at, id) keeps pages stable while new records land.
func (l *TransactionLog) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int, cursor string) ([]*domain.TransactionRecord, string, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `SELECT ` + recordColumns + ` FROM transactions WHERE account_id = $1`
	args := []interface{}{accountID}

	if cursor != "" {
		pos, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", apperrors.NewAppError(apperrors.InvalidInput, "invalid cursor")
		}
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, pos.CreatedAt, pos.ID)
	}

	query += ` ORDER BY created_at DESC, id DESC LIMIT ` + strconv.Itoa(limit+1)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		l.logger.Error("Failed to list records", "account_id", accountID, "error", err)
		return nil, "", apperrors.NewAppError(apperrors.InternalError, "failed to list records").WithDetails(err.Error())
	}
	defer rows.Close()

	var records []*domain.TransactionRecord
	for rows.Next() {
		record, err := scanRecordRow(rows)
		if err != nil {
			return nil, "", apperrors.NewAppError(apperrors.InternalError, "failed to scan record").WithDetails(err.Error())
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, "", apperrors.NewAppError(apperrors.InternalError, "failed to list records").WithDetails(err.Error())
	}

	next := ""
	if len(records) > limit {
		records = records[:limit]
		last := records[len(records)-1]
		next = encodeCursor(listCursor{CreatedAt: last.CreatedAt, ID: last.ID})
	}
	return records, next, nil
}

func scanRecordRow(row rowScanner) (*domain.TransactionRecord, error) {
	var record domain.TransactionRecord
	var amountStr string
	var counterparty uuid.NullUUID

	err := row.Scan(
		&record.ID,
		&record.AccountID,
		&counterparty,
		&amountStr,
		&record.Direction,
		&record.Ledger,
		&record.Category,
		&record.Status,
		&record.Reference,
		&record.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if counterparty.Valid {
		id := counterparty.UUID
		record.CounterpartyID = &id
	}

	if record.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, err
	}
	return &record, nil
}
