package session

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"airtime/internal/db"
)

// PgLedger runs settlement closures inside a serializable Postgres
// transaction, handing the closure transaction-scoped repositories so the
// session write and the quota increment commit or roll back together.
type PgLedger struct {
	db     *db.DB
	logger *slog.Logger
}

func NewPgLedger(database *db.DB, logger *slog.Logger) *PgLedger {
	return &PgLedger{db: database, logger: logger}
}

func (l *PgLedger) InTx(ctx context.Context, fn func(accounts TxAccounts, sessions TxSessions) error) error {
	return l.db.WithAccountSessionTx(ctx, func(tx pgx.Tx) error {
		return fn(db.NewAccountRepo(tx, l.logger), db.NewSessionRepo(tx))
	})
}

var _ Ledger = (*PgLedger)(nil)
