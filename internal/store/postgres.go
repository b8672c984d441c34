package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision and
// cross the wire as text.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// --- Price snapshots ---

const snapshotColumns = `symbol, snapshot_date, close::TEXT, high::TEXT, low::TEXT, volume, updated_at`

func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap *model.PriceSnapshot) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO price_snapshots (symbol, snapshot_date, close, high, low, volume, updated_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5::NUMERIC, $6, $7)
		 ON CONFLICT (symbol, snapshot_date) DO UPDATE
		 SET close = EXCLUDED.close, high = EXCLUDED.high, low = EXCLUDED.low,
		     volume = EXCLUDED.volume, updated_at = EXCLUDED.updated_at`,
		snap.Symbol, snap.Date, snap.Close.String(), snap.High.String(), snap.Low.String(),
		snap.Volume, snap.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", snap.Symbol, err)
	}
	return nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context, symbol string) (*model.PriceSnapshot, error) {
	return latestSnapshot(ctx, s.pool, symbol)
}

func latestSnapshot(ctx context.Context, q querier, symbol string) (*model.PriceSnapshot, error) {
	row := q.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM price_snapshots
		 WHERE symbol = $1 ORDER BY snapshot_date DESC LIMIT 1`, symbol)
	snap, err := scanSnapshot(row)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot %s: %w", symbol, mapErr(err))
	}
	return snap, nil
}

func (s *PostgresStore) SnapshotAsOf(ctx context.Context, symbol string, date time.Time) (*model.PriceSnapshot, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM price_snapshots
		 WHERE symbol = $1 AND snapshot_date <= $2
		 ORDER BY snapshot_date DESC LIMIT 1`, symbol, date)
	snap, err := scanSnapshot(row)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s as of %s: %w", symbol, date.Format(time.DateOnly), mapErr(err))
	}
	return snap, nil
}

func scanSnapshot(row pgx.Row) (*model.PriceSnapshot, error) {
	var snap model.PriceSnapshot
	var closeS, highS, lowS string
	if err := row.Scan(&snap.Symbol, &snap.Date, &closeS, &highS, &lowS, &snap.Volume, &snap.UpdatedAt); err != nil {
		return nil, err
	}
	snap.Date = model.DateOf(snap.Date)
	snap.Close, _ = decimal.NewFromString(closeS)
	snap.High, _ = decimal.NewFromString(highS)
	snap.Low, _ = decimal.NewFromString(lowS)
	return &snap, nil
}

// --- Leagues ---

const leagueColumns = `id, name, manager_id, initial_cash::TEXT, max_members, status, created_at, started_at, ended_at`

func (s *PostgresStore) GetLeague(ctx context.Context, id string) (*model.League, error) {
	return getLeague(ctx, s.pool, id, "")
}

func getLeague(ctx context.Context, q querier, id, lockClause string) (*model.League, error) {
	row := q.QueryRow(ctx, `SELECT `+leagueColumns+` FROM leagues WHERE id = $1 `+lockClause, id)
	l, err := scanLeague(row)
	if err != nil {
		return nil, fmt.Errorf("get league %s: %w", id, mapErr(err))
	}
	return l, nil
}

func (s *PostgresStore) ListLeagues(ctx context.Context, status model.LeagueStatus) ([]model.League, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+leagueColumns+` FROM leagues
		 WHERE ($1 = '' OR status = $1)
		 ORDER BY created_at DESC, id DESC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list leagues: %w", err)
	}
	defer rows.Close()

	var leagues []model.League
	for rows.Next() {
		l, err := scanLeague(rows)
		if err != nil {
			return nil, err
		}
		leagues = append(leagues, *l)
	}
	return leagues, rows.Err()
}

func scanLeague(row pgx.Row) (*model.League, error) {
	var l model.League
	var cashS string
	if err := row.Scan(&l.ID, &l.Name, &l.ManagerID, &cashS, &l.MaxMembers, &l.Status,
		&l.CreatedAt, &l.StartedAt, &l.EndedAt); err != nil {
		return nil, err
	}
	l.InitialCash, _ = decimal.NewFromString(cashS)
	return &l, nil
}

// --- Ledger reads ---

const accountColumns = `user_id, league_id, cash_balance::TEXT, starting_cash::TEXT, is_active,
	final_equity_value::TEXT, final_rank, joined_at, left_at`

func (s *PostgresStore) GetAccount(ctx context.Context, userID, leagueID string) (*model.LedgerAccount, error) {
	return getAccount(ctx, s.pool, userID, leagueID, "")
}

func getAccount(ctx context.Context, q querier, userID, leagueID, lockClause string) (*model.LedgerAccount, error) {
	row := q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM league_accounts
		 WHERE user_id = $1 AND league_id = $2 `+lockClause, userID, leagueID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("get account %s/%s: %w", userID, leagueID, mapErr(err))
	}
	return a, nil
}

func (s *PostgresStore) GetActiveAccount(ctx context.Context, userID string) (*model.LedgerAccount, error) {
	return getActiveAccount(ctx, s.pool, userID, "")
}

func getActiveAccount(ctx context.Context, q querier, userID, lockClause string) (*model.LedgerAccount, error) {
	row := q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM league_accounts
		 WHERE user_id = $1 AND is_active `+lockClause, userID)
	a, err := scanAccount(row)
	if err != nil {
		return nil, fmt.Errorf("get active account %s: %w", userID, mapErr(err))
	}
	return a, nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context, leagueID string) ([]model.LedgerAccount, error) {
	return listAccounts(ctx, s.pool, leagueID, "")
}

func listAccounts(ctx context.Context, q querier, leagueID, lockClause string) ([]model.LedgerAccount, error) {
	rows, err := q.Query(ctx,
		`SELECT `+accountColumns+` FROM league_accounts
		 WHERE league_id = $1
		 ORDER BY joined_at, user_id `+lockClause, leagueID)
	if err != nil {
		return nil, fmt.Errorf("list accounts %s: %w", leagueID, err)
	}
	defer rows.Close()

	var accounts []model.LedgerAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

func scanAccount(row pgx.Row) (*model.LedgerAccount, error) {
	var a model.LedgerAccount
	var cashS, startS string
	var finalS *string
	var finalRank *int32
	if err := row.Scan(&a.UserID, &a.LeagueID, &cashS, &startS, &a.IsActive,
		&finalS, &finalRank, &a.JoinedAt, &a.LeftAt); err != nil {
		return nil, err
	}
	a.CashBalance, _ = decimal.NewFromString(cashS)
	a.StartingCash, _ = decimal.NewFromString(startS)
	if finalS != nil {
		v, _ := decimal.NewFromString(*finalS)
		a.FinalEquityValue = decimal.NewNullDecimal(v)
	}
	if finalRank != nil {
		r := int(*finalRank)
		a.FinalRank = &r
	}
	return &a, nil
}

const positionColumns = `user_id, league_id, symbol, shares::TEXT, average_price::TEXT, updated_at`

func (s *PostgresStore) ListPositions(ctx context.Context, userID, leagueID string) ([]model.Position, error) {
	return listPositions(ctx, s.pool, userID, leagueID)
}

func listPositions(ctx context.Context, q querier, userID, leagueID string) ([]model.Position, error) {
	rows, err := q.Query(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND league_id = $2 ORDER BY symbol`, userID, leagueID)
	if err != nil {
		return nil, fmt.Errorf("list positions %s/%s: %w", userID, leagueID, err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, err
		}
		positions = append(positions, *p)
	}
	return positions, rows.Err()
}

func scanPosition(row pgx.Row) (*model.Position, error) {
	var p model.Position
	var sharesS, avgS string
	if err := row.Scan(&p.UserID, &p.LeagueID, &p.Symbol, &sharesS, &avgS, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Shares, _ = decimal.NewFromString(sharesS)
	p.AveragePrice, _ = decimal.NewFromString(avgS)
	return &p, nil
}

func (s *PostgresStore) ListTransactions(ctx context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	var from, to *time.Time
	if f.From != nil {
		v := model.DateOf(*f.From)
		from = &v
	}
	if f.To != nil {
		v := model.DateOf(*f.To).AddDate(0, 0, 1)
		to = &v
	}
	var limit *int
	if f.Limit > 0 {
		limit = &f.Limit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, league_id, symbol, side, shares::TEXT, price::TEXT, created_at
		 FROM transactions
		 WHERE user_id = $1
		   AND ($2 = '' OR league_id = $2)
		   AND ($3::TIMESTAMPTZ IS NULL OR created_at >= $3)
		   AND ($4::TIMESTAMPTZ IS NULL OR created_at < $4)
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $5 OFFSET $6`,
		f.UserID, f.LeagueID, from, to, limit, f.Offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", f.UserID, err)
	}
	defer rows.Close()

	return scanTransactions(rows)
}

type pgxRows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

// scanTransactions reads pgx rows into a Transaction slice.
func scanTransactions(rows pgxRows) ([]model.Transaction, error) {
	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var sharesS, priceS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.LeagueID, &t.Symbol, &t.Side,
			&sharesS, &priceS, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Shares, _ = decimal.NewFromString(sharesS)
		t.Price, _ = decimal.NewFromString(priceS)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// --- Units of work ---

// InTx runs fn in a READ COMMITTED transaction. Row locks taken through Tx
// (FOR SHARE / FOR UPDATE) serialize conflicting units of work.
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", mapErr(err))
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LatestSnapshot(ctx context.Context, symbol string) (*model.PriceSnapshot, error) {
	return latestSnapshot(ctx, t.tx, symbol)
}

func (t *pgTx) InsertLeague(ctx context.Context, l *model.League) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO leagues (id, name, manager_id, initial_cash, max_members, status, created_at, started_at, ended_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8, $9)`,
		l.ID, l.Name, l.ManagerID, l.InitialCash.String(), l.MaxMembers, l.Status,
		l.CreatedAt, l.StartedAt, l.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert league %s: %w", l.Name, mapErr(err))
	}
	return nil
}

func (t *pgTx) GetLeague(ctx context.Context, id string) (*model.League, error) {
	return getLeague(ctx, t.tx, id, "FOR SHARE")
}

func (t *pgTx) LockLeague(ctx context.Context, id string) (*model.League, error) {
	return getLeague(ctx, t.tx, id, "FOR UPDATE")
}

func (t *pgTx) UpdateLeague(ctx context.Context, l *model.League) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE leagues
		 SET name = $2, initial_cash = $3::NUMERIC, max_members = $4, status = $5,
		     started_at = $6, ended_at = $7
		 WHERE id = $1`,
		l.ID, l.Name, l.InitialCash.String(), l.MaxMembers, l.Status, l.StartedAt, l.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("update league %s: %w", l.ID, mapErr(err))
	}
	return nil
}

func (t *pgTx) LockAccount(ctx context.Context, userID, leagueID string) (*model.LedgerAccount, error) {
	return getAccount(ctx, t.tx, userID, leagueID, "FOR UPDATE")
}

func (t *pgTx) LockActiveAccount(ctx context.Context, userID string) (*model.LedgerAccount, error) {
	return getActiveAccount(ctx, t.tx, userID, "FOR UPDATE")
}

func (t *pgTx) InsertAccount(ctx context.Context, a *model.LedgerAccount) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO league_accounts
		   (user_id, league_id, cash_balance, starting_cash, is_active, final_equity_value, final_rank, joined_at, left_at)
		 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6::NUMERIC, $7, $8, $9)`,
		a.UserID, a.LeagueID, a.CashBalance.String(), a.StartingCash.String(), a.IsActive,
		nullDecimalArg(a.FinalEquityValue), a.FinalRank, a.JoinedAt, a.LeftAt,
	)
	if err != nil {
		return fmt.Errorf("insert account %s/%s: %w", a.UserID, a.LeagueID, mapErr(err))
	}
	return nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *model.LedgerAccount) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE league_accounts
		 SET cash_balance = $3::NUMERIC, starting_cash = $4::NUMERIC, is_active = $5,
		     final_equity_value = $6::NUMERIC, final_rank = $7, joined_at = $8, left_at = $9
		 WHERE user_id = $1 AND league_id = $2`,
		a.UserID, a.LeagueID, a.CashBalance.String(), a.StartingCash.String(), a.IsActive,
		nullDecimalArg(a.FinalEquityValue), a.FinalRank, a.JoinedAt, a.LeftAt,
	)
	if err != nil {
		return fmt.Errorf("update account %s/%s: %w", a.UserID, a.LeagueID, mapErr(err))
	}
	return nil
}

func (t *pgTx) ListAccounts(ctx context.Context, leagueID string) ([]model.LedgerAccount, error) {
	return listAccounts(ctx, t.tx, leagueID, "FOR UPDATE")
}

func (t *pgTx) LockPosition(ctx context.Context, userID, leagueID, symbol string) (*model.Position, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT `+positionColumns+` FROM positions
		 WHERE user_id = $1 AND league_id = $2 AND symbol = $3 FOR UPDATE`,
		userID, leagueID, symbol)
	p, err := scanPosition(row)
	if err != nil {
		return nil, fmt.Errorf("lock position %s/%s/%s: %w", userID, leagueID, symbol, mapErr(err))
	}
	return p, nil
}

func (t *pgTx) ListPositions(ctx context.Context, userID, leagueID string) ([]model.Position, error) {
	return listPositions(ctx, t.tx, userID, leagueID)
}

func (t *pgTx) SavePosition(ctx context.Context, p *model.Position) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO positions (user_id, league_id, symbol, shares, average_price, updated_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6)
		 ON CONFLICT (user_id, league_id, symbol) DO UPDATE
		 SET shares = EXCLUDED.shares, average_price = EXCLUDED.average_price, updated_at = EXCLUDED.updated_at`,
		p.UserID, p.LeagueID, p.Symbol, p.Shares.String(), p.AveragePrice.String(), p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save position %s/%s/%s: %w", p.UserID, p.LeagueID, p.Symbol, mapErr(err))
	}
	return nil
}

func (t *pgTx) DeletePosition(ctx context.Context, userID, leagueID, symbol string) error {
	_, err := t.tx.Exec(ctx,
		`DELETE FROM positions WHERE user_id = $1 AND league_id = $2 AND symbol = $3`,
		userID, leagueID, symbol)
	if err != nil {
		return fmt.Errorf("delete position %s/%s/%s: %w", userID, leagueID, symbol, err)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *model.Transaction) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, league_id, symbol, side, shares, price, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		txn.ID, txn.UserID, txn.LeagueID, txn.Symbol, txn.Side,
		txn.Shares.String(), txn.Price.String(), txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", txn.ID, mapErr(err))
	}
	return nil
}

func nullDecimalArg(v decimal.NullDecimal) *string {
	if !v.Valid {
		return nil
	}
	s := v.Decimal.String()
	return &s
}

// mapErr translates driver errors into store sentinels.
func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
	}
	return err
}
