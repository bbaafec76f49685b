package oracle

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/helm-rem/pkg/intent"
)

// SQLOracle reads intent states from the intent_states table.
// It supports both Postgres and SQLite via standard drivers.
type SQLOracle struct {
	db *sql.DB
}

func NewSQLOracle(db *sql.DB) *SQLOracle {
	return &SQLOracle{db: db}
}

const intentStatesSchema = `
CREATE TABLE IF NOT EXISTS intent_states (
	intent_hash TEXT PRIMARY KEY,
	state INTEGER NOT NULL,
	updated_at TIMESTAMP
);
`

func (o *SQLOracle) Init(ctx context.Context) error {
	_, err := o.db.ExecContext(ctx, intentStatesSchema)
	return err
}

// State returns the stored state of h.
func (o *SQLOracle) State(ctx context.Context, h intent.Hash) (intent.State, error) {
	query := `SELECT state FROM intent_states WHERE intent_hash = $1`

	var raw int64
	if err := o.db.QueryRowContext(ctx, query, h.String()).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	if raw < 0 || raw > 0xFF || !intent.State(raw).Valid() {
		return 0, fmt.Errorf("%w: %d", ErrUnknownState, raw)
	}
	return intent.State(raw), nil
}

// IsAuthorized reports whether h is stored as AUTHORIZED. Unknown intents
// are not authorized.
func (o *SQLOracle) IsAuthorized(ctx context.Context, h intent.Hash) (bool, error) {
	state, err := o.State(ctx, h)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return state == intent.StateAuthorized, nil
}

// SetState upserts the state of h. The gate never calls it; it exists for
// ledger tooling and fixtures.
func (o *SQLOracle) SetState(ctx context.Context, h intent.Hash, state intent.State) error {
	if !state.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownState, state)
	}
	query := `
		INSERT INTO intent_states (intent_hash, state, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (intent_hash) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`
	_, err := o.db.ExecContext(ctx, query, h.String(), int64(state), time.Now().UTC())
	return err
}

func (o *SQLOracle) Ping(ctx context.Context) error {
	return o.db.PingContext(ctx)
}
