package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
	"github.com/aidencstop/fantasy-league-engine/internal/store"
)

var (
	ctx  = context.Background()
	day1 = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func seedLeague(t *testing.T, st store.Store, id string, status model.LeagueStatus, createdAt time.Time) {
	t.Helper()
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertLeague(ctx, &model.League{
			ID: id, Name: "league " + id, ManagerID: "m-" + id, InitialCash: d(1000),
			MaxMembers: 10, Status: status, CreatedAt: createdAt,
		})
	}))
}

func seedAccount(t *testing.T, st store.Store, user, league string, active bool, joined time.Time) {
	t.Helper()
	require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
		return tx.InsertAccount(ctx, &model.LedgerAccount{
			UserID: user, LeagueID: league, CashBalance: d(1000), StartingCash: d(1000),
			IsActive: active, JoinedAt: joined,
		})
	}))
}

// storeContract runs the behavior every Store implementation shares.
func storeContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("snapshots", func(t *testing.T) {
		st := newStore(t)
		for i, close := range []float64{10, 11, 12} {
			snap := &model.PriceSnapshot{Symbol: "XYZ", Date: day1.AddDate(0, 0, 2*i), Close: d(close), UpdatedAt: day1}
			require.NoError(t, st.UpsertSnapshot(ctx, snap))
		}

		latest, err := st.LatestSnapshot(ctx, "XYZ")
		require.NoError(t, err)
		assert.True(t, latest.Close.Equal(d(12)))

		asOf, err := st.SnapshotAsOf(ctx, "XYZ", day1.AddDate(0, 0, 3))
		require.NoError(t, err)
		assert.True(t, asOf.Close.Equal(d(11)), "gap day resolves to the prior close")
		assert.True(t, asOf.Date.Equal(day1.AddDate(0, 0, 2)))

		_, err = st.SnapshotAsOf(ctx, "XYZ", day1.AddDate(0, 0, -1))
		assert.ErrorIs(t, err, store.ErrNotFound)
		_, err = st.LatestSnapshot(ctx, "NONE")
		assert.ErrorIs(t, err, store.ErrNotFound)

		// Same key overwrites.
		require.NoError(t, st.UpsertSnapshot(ctx, &model.PriceSnapshot{Symbol: "XYZ", Date: day1, Close: d(9.5), UpdatedAt: day1}))
		first, err := st.SnapshotAsOf(ctx, "XYZ", day1)
		require.NoError(t, err)
		assert.True(t, first.Close.Equal(d(9.5)))

		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
			snap, err := tx.LatestSnapshot(ctx, "XYZ")
			if err != nil {
				return err
			}
			assert.True(t, snap.Close.Equal(d(12)))
			_, err = tx.LatestSnapshot(ctx, "NONE")
			assert.ErrorIs(t, err, store.ErrNotFound)
			return nil
		}))
	})

	t.Run("leagues", func(t *testing.T) {
		st := newStore(t)
		seedLeague(t, st, "a", model.LeagueDraft, day1)
		seedLeague(t, st, "b", model.LeagueActive, day1.Add(time.Hour))

		all, err := st.ListLeagues(ctx, "")
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "b", all[0].ID, "newest first")

		active, err := st.ListLeagues(ctx, model.LeagueActive)
		require.NoError(t, err)
		require.Len(t, active, 1)
		assert.Equal(t, "b", active[0].ID)

		err = st.InTx(ctx, func(tx store.Tx) error {
			return tx.InsertLeague(ctx, &model.League{
				ID: "c", Name: "league a", ManagerID: "x", InitialCash: d(1), MaxMembers: 2,
				Status: model.LeagueDraft, CreatedAt: day1,
			})
		})
		assert.ErrorIs(t, err, store.ErrConflict, "duplicate name")

		_, err = st.GetLeague(ctx, "missing")
		assert.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
			l, err := tx.LockLeague(ctx, "a")
			if err != nil {
				return err
			}
			started := day1.Add(2 * time.Hour)
			l.Status = model.LeagueActive
			l.StartedAt = &started
			l.InitialCash = d(5000)
			return tx.UpdateLeague(ctx, l)
		}))
		got, err := st.GetLeague(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, model.LeagueActive, got.Status)
		assert.True(t, got.InitialCash.Equal(d(5000)))
		require.NotNil(t, got.StartedAt)
	})

	t.Run("one active account per user", func(t *testing.T) {
		st := newStore(t)
		seedLeague(t, st, "a", model.LeagueDraft, day1)
		seedLeague(t, st, "b", model.LeagueDraft, day1)
		seedAccount(t, st, "u", "a", true, day1)

		err := st.InTx(ctx, func(tx store.Tx) error {
			return tx.InsertAccount(ctx, &model.LedgerAccount{
				UserID: "u", LeagueID: "b", CashBalance: d(0), StartingCash: d(0), IsActive: true, JoinedAt: day1,
			})
		})
		assert.ErrorIs(t, err, store.ErrConflict)

		// Deactivate and join elsewhere in one unit.
		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
			a, err := tx.LockAccount(ctx, "u", "a")
			if err != nil {
				return err
			}
			a.IsActive = false
			if err := tx.UpdateAccount(ctx, a); err != nil {
				return err
			}
			return tx.InsertAccount(ctx, &model.LedgerAccount{
				UserID: "u", LeagueID: "b", CashBalance: d(0), StartingCash: d(0), IsActive: true, JoinedAt: day1,
			})
		}))
		active, err := st.GetActiveAccount(ctx, "u")
		require.NoError(t, err)
		assert.Equal(t, "b", active.LeagueID)
	})

	t.Run("final fields round trip", func(t *testing.T) {
		st := newStore(t)
		seedLeague(t, st, "a", model.LeagueEnded, day1)
		seedAccount(t, st, "u", "a", true, day1)

		rank := 3
		left := day1.Add(time.Hour)
		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
			a, err := tx.LockAccount(ctx, "u", "a")
			if err != nil {
				return err
			}
			a.IsActive = false
			a.FinalRank = &rank
			a.FinalEquityValue = decimal.NewNullDecimal(d(1234.56))
			a.LeftAt = &left
			return tx.UpdateAccount(ctx, a)
		}))

		got, err := st.GetAccount(ctx, "u", "a")
		require.NoError(t, err)
		assert.False(t, got.IsActive)
		require.NotNil(t, got.FinalRank)
		assert.Equal(t, 3, *got.FinalRank)
		assert.True(t, got.FinalEquityValue.Valid)
		assert.True(t, got.FinalEquityValue.Decimal.Equal(d(1234.56)))
		_, err = st.GetActiveAccount(ctx, "u")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("accounts in join order", func(t *testing.T) {
		st := newStore(t)
		seedLeague(t, st, "a", model.LeagueDraft, day1)
		seedAccount(t, st, "zed", "a", true, day1)
		seedAccount(t, st, "amy", "a", true, day1.Add(time.Second))
		seedAccount(t, st, "bob", "a", true, day1)

		accounts, err := st.ListAccounts(ctx, "a")
		require.NoError(t, err)
		var users []string
		for _, a := range accounts {
			users = append(users, a.UserID)
		}
		assert.Equal(t, []string{"bob", "zed", "amy"}, users)
	})

	t.Run("rollback leaves no trace", func(t *testing.T) {
		st := newStore(t)
		seedLeague(t, st, "a", model.LeagueActive, day1)
		seedAccount(t, st, "u", "a", true, day1)

		boom := errors.New("boom")
		err := st.InTx(ctx, func(tx store.Tx) error {
			a, err := tx.LockAccount(ctx, "u", "a")
			if err != nil {
				return err
			}
			a.CashBalance = d(1)
			if err := tx.UpdateAccount(ctx, a); err != nil {
				return err
			}
			if err := tx.SavePosition(ctx, &model.Position{UserID: "u", LeagueID: "a", Symbol: "XYZ", Shares: d(5), AveragePrice: d(10), UpdatedAt: day1}); err != nil {
				return err
			}
			if err := tx.InsertTransaction(ctx, &model.Transaction{
				ID: "00000000-0000-0000-0000-000000000001", UserID: "u", LeagueID: "a", Symbol: "XYZ",
				Side: model.SideBuy, Shares: d(5), Price: d(10), CreatedAt: day1,
			}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		acct, err := st.GetAccount(ctx, "u", "a")
		require.NoError(t, err)
		assert.True(t, acct.CashBalance.Equal(d(1000)))
		positions, err := st.ListPositions(ctx, "u", "a")
		require.NoError(t, err)
		assert.Empty(t, positions)
		txns, err := st.ListTransactions(ctx, model.TransactionFilter{UserID: "u"})
		require.NoError(t, err)
		assert.Empty(t, txns)
	})

	t.Run("positions", func(t *testing.T) {
		st := newStore(t)
		seedLeague(t, st, "a", model.LeagueActive, day1)
		seedAccount(t, st, "u", "a", true, day1)

		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
			for _, sym := range []string{"MSFT", "AAPL"} {
				if err := tx.SavePosition(ctx, &model.Position{UserID: "u", LeagueID: "a", Symbol: sym, Shares: d(3), AveragePrice: d(7.25), UpdatedAt: day1}); err != nil {
					return err
				}
			}
			return nil
		}))
		positions, err := st.ListPositions(ctx, "u", "a")
		require.NoError(t, err)
		require.Len(t, positions, 2)
		assert.Equal(t, "AAPL", positions[0].Symbol)
		assert.True(t, positions[0].AveragePrice.Equal(d(7.25)))

		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
			if _, err := tx.LockPosition(ctx, "u", "a", "AAPL"); err != nil {
				return err
			}
			if err := tx.DeletePosition(ctx, "u", "a", "AAPL"); err != nil {
				return err
			}
			// The unit sees its own delete.
			_, err := tx.LockPosition(ctx, "u", "a", "AAPL")
			if !errors.Is(err, store.ErrNotFound) {
				return errors.New("expected staged delete to hide the row")
			}
			return nil
		}))
		positions, err = st.ListPositions(ctx, "u", "a")
		require.NoError(t, err)
		require.Len(t, positions, 1)
		assert.Equal(t, "MSFT", positions[0].Symbol)
	})

	t.Run("transaction history", func(t *testing.T) {
		st := newStore(t)
		seedLeague(t, st, "a", model.LeagueActive, day1)
		seedLeague(t, st, "b", model.LeagueActive, day1)
		seedAccount(t, st, "u", "a", true, day1)
		seedAccount(t, st, "u", "b", false, day1)

		ids := []string{
			"00000000-0000-0000-0000-00000000000a",
			"00000000-0000-0000-0000-00000000000b",
			"00000000-0000-0000-0000-00000000000c",
			"00000000-0000-0000-0000-00000000000d",
		}
		times := []time.Time{
			day1.Add(10 * time.Hour),
			day1.AddDate(0, 0, 1).Add(23 * time.Hour),
			day1.AddDate(0, 0, 2).Add(time.Hour),
			day1.AddDate(0, 0, 3),
		}
		require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
			for i := range ids {
				league := "a"
				if i == 3 {
					league = "b"
				}
				if err := tx.InsertTransaction(ctx, &model.Transaction{
					ID: ids[i], UserID: "u", LeagueID: league, Symbol: "XYZ", Side: model.SideBuy,
					Shares: d(1), Price: d(10), CreatedAt: times[i],
				}); err != nil {
					return err
				}
			}
			return nil
		}))

		all, err := st.ListTransactions(ctx, model.TransactionFilter{UserID: "u"})
		require.NoError(t, err)
		require.Len(t, all, 4)
		assert.Equal(t, ids[3], all[0].ID, "newest first")

		inLeague, err := st.ListTransactions(ctx, model.TransactionFilter{UserID: "u", LeagueID: "a"})
		require.NoError(t, err)
		assert.Len(t, inLeague, 3)

		from, to := day1.AddDate(0, 0, 1), day1.AddDate(0, 0, 1)
		oneDay, err := st.ListTransactions(ctx, model.TransactionFilter{UserID: "u", From: &from, To: &to})
		require.NoError(t, err)
		require.Len(t, oneDay, 1, "date_to is inclusive of the whole day")
		assert.Equal(t, ids[1], oneDay[0].ID)

		page, err := st.ListTransactions(ctx, model.TransactionFilter{UserID: "u", Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, ids[2], page[0].ID)
		assert.Equal(t, ids[1], page[1].ID)

		other, err := st.ListTransactions(ctx, model.TransactionFilter{UserID: "someone"})
		require.NoError(t, err)
		assert.Empty(t, other)

		// Equal timestamps come back newest-inserted first, whatever the ids.
		tied := day1.AddDate(0, 0, 5)
		for _, id := range []string{"tie-c", "tie-a", "tie-b"} {
			require.NoError(t, st.InTx(ctx, func(tx store.Tx) error {
				return tx.InsertTransaction(ctx, &model.Transaction{
					ID: id, UserID: "u", LeagueID: "a", Symbol: "XYZ", Side: model.SideSell,
					Shares: d(1), Price: d(10), CreatedAt: tied,
				})
			}))
		}
		latest, err := st.ListTransactions(ctx, model.TransactionFilter{UserID: "u", Limit: 3})
		require.NoError(t, err)
		require.Len(t, latest, 3)
		assert.Equal(t, []string{"tie-b", "tie-a", "tie-c"}, []string{latest[0].ID, latest[1].ID, latest[2].ID})
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) store.Store { return store.NewMemoryStore() })
}

func TestMemoryStore_CommitRechecksActiveAccount(t *testing.T) {
	st := store.NewMemoryStore()
	seedLeague(t, st, "a", model.LeagueDraft, day1)
	seedLeague(t, st, "b", model.LeagueDraft, day1)

	err := st.InTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertAccount(ctx, &model.LedgerAccount{UserID: "u", LeagueID: "a", IsActive: true, JoinedAt: day1}); err != nil {
			return err
		}
		// A second unit commits a competing active account first.
		return st.InTx(ctx, func(other store.Tx) error {
			return other.InsertAccount(ctx, &model.LedgerAccount{UserID: "u", LeagueID: "b", IsActive: true, JoinedAt: day1})
		})
	})
	require.ErrorIs(t, err, store.ErrConflict)

	active, err := st.GetActiveAccount(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "b", active.LeagueID)
	_, err = st.GetAccount(ctx, "u", "a")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStore_SharedLeagueLockBlocksTransition(t *testing.T) {
	st := store.NewMemoryStore()
	seedLeague(t, st, "a", model.LeagueActive, day1)

	held := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- st.InTx(ctx, func(tx store.Tx) error {
			if _, err := tx.GetLeague(ctx, "a"); err != nil {
				return err
			}
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	locked := make(chan struct{})
	go func() {
		_ = st.InTx(ctx, func(tx store.Tx) error {
			_, err := tx.LockLeague(ctx, "a")
			close(locked)
			return err
		})
	}()

	select {
	case <-locked:
		t.Fatal("exclusive lock acquired while a shared holder was active")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	require.NoError(t, <-done)
	select {
	case <-locked:
	case <-time.After(time.Second):
		t.Fatal("exclusive lock never acquired")
	}
}
