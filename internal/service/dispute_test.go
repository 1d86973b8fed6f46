package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/models"
)

func newDisputeEnv() (*memStore, *Ledger, *Disputes) {
	store, ledger := newLedgerEnv()
	disputes := NewDisputes(store, ledger, NewCallbackSender(time.Second))
	return store, ledger, disputes
}

func TestDisputeOpenFreezesDeal(t *testing.T) {
	store, _, disputes := newDisputeEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusInProgress, testValueMicros)

	dispute, err := disputes.Open(context.Background(), deal.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStatusOpen, dispute.Status)
	require.Equal(t, deal.ID, dispute.DealID)
	require.Equal(t, domain.DealStatusInProgress, dispute.PriorStatus)
	require.Equal(t, domain.DealStatusDispute, store.deals[deal.ID].Status)
}

func TestDisputeOpenInvalidSource(t *testing.T) {
	store, _, disputes := newDisputeEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, 0)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusCanceled, 0)

	_, err := disputes.Open(context.Background(), deal.ID)
	require.ErrorIs(t, err, models.ErrInvalidStatusTransition)
}

func TestDisputeTakeIsIdempotent(t *testing.T) {
	store, _, disputes := newDisputeEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusInProgress, testValueMicros)

	ctx := context.Background()
	opened, err := disputes.Open(ctx, deal.ID)
	require.NoError(t, err)

	taken, err := disputes.Take(ctx, opened.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStatusInProgress, taken.Status)

	again, err := disputes.Take(ctx, opened.ID)
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStatusInProgress, again.Status)
}

func TestDisputeResolveFavorMerchantForfeitsFrozenCollateral(t *testing.T) {
	store, _, disputes := newDisputeEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusInProgress, testValueMicros)

	ctx := context.Background()
	opened, err := disputes.Open(ctx, deal.ID)
	require.NoError(t, err)

	resolved, err := disputes.Resolve(ctx, opened.ID, FavorMerchant, "payer proof verified")
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStatusFavorMerchant, resolved.Status)
	require.Equal(t, "payer proof verified", resolved.Rationale)
	require.NotNil(t, resolved.ResolvedAt)

	// Frozen collateral goes to the merchant in full; trust untouched.
	require.Equal(t, testValueMicros, store.merchants[merchant.ID].BalanceMicros)
	require.Equal(t, testTraderTrustStart, store.traders[trader.ID].TrustMicros)
	require.Zero(t, store.traders[trader.ID].FrozenMicros)
	require.Equal(t, int64(100_000_000), store.traders[trader.ID].DepositMicros)

	got := store.deals[deal.ID]
	require.Equal(t, domain.DealStatusExpired, got.Status)
	require.Zero(t, got.CollateralMicros)
}

func TestDisputeResolveFavorMerchantClawsBackReleasedCollateral(t *testing.T) {
	store, ledger, disputes := newDisputeEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusInProgress, testValueMicros)

	ctx := context.Background()
	_, err := ledger.Apply(ctx, deal.ID, domain.DealStatusReady)
	require.NoError(t, err)
	trustAfterSettle := store.traders[trader.ID].TrustMicros
	require.Equal(t, testTraderTrustStart+testValueMicros+testTraderProfit, trustAfterSettle)

	opened, err := disputes.Open(ctx, deal.ID)
	require.NoError(t, err)
	_, err = disputes.Resolve(ctx, opened.ID, FavorMerchant, "merchant never received funds")
	require.NoError(t, err)

	// Trust covered the full collateral: no deposit debit.
	require.Equal(t, trustAfterSettle-testValueMicros, store.traders[trader.ID].TrustMicros)
	require.Equal(t, int64(100_000_000), store.traders[trader.ID].DepositMicros)
	require.Equal(t, testMerchantCredit+testValueMicros, store.merchants[merchant.ID].BalanceMicros)
	require.Equal(t, domain.DealStatusExpired, store.deals[deal.ID].Status)
}

func TestDisputeResolveFavorMerchantDepositCoversShortfall(t *testing.T) {
	store, _, disputes := newDisputeEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, 40_000_000, 0)
	trader.DepositMicros = 60_000_000
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusExpired, 0)

	ctx := context.Background()
	opened, err := disputes.Open(ctx, deal.ID)
	require.NoError(t, err)
	_, err = disputes.Resolve(ctx, opened.ID, FavorMerchant, "late confirmation")
	require.NoError(t, err)

	// Collateral 110.05: trust zeroed, deposit covers what it can, the
	// combined debit never exceeds what the trader holds.
	require.Zero(t, store.traders[trader.ID].TrustMicros)
	require.Zero(t, store.traders[trader.ID].DepositMicros)
	require.Equal(t, int64(100_000_000), store.merchants[merchant.ID].BalanceMicros)
}

func TestDisputeResolveFavorTraderRestoresPriorStatus(t *testing.T) {
	store, _, disputes := newDisputeEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusInProgress, testValueMicros)

	ctx := context.Background()
	opened, err := disputes.Open(ctx, deal.ID)
	require.NoError(t, err)

	resolved, err := disputes.Resolve(ctx, opened.ID, FavorTrader, "chargeback withdrawn")
	require.NoError(t, err)
	require.Equal(t, domain.DisputeStatusFavorTrader, resolved.Status)

	// Collateral released without forfeiture, deal back where it was.
	require.Equal(t, testTraderTrustStart+testValueMicros, store.traders[trader.ID].TrustMicros)
	require.Zero(t, store.traders[trader.ID].FrozenMicros)
	require.Zero(t, store.merchants[merchant.ID].BalanceMicros)
	require.Equal(t, domain.DealStatusInProgress, store.deals[deal.ID].Status)
}

func TestDisputeResolveFavorTraderKeepsSettledEffects(t *testing.T) {
	store, ledger, disputes := newDisputeEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusInProgress, testValueMicros)

	ctx := context.Background()
	_, err := ledger.Apply(ctx, deal.ID, domain.DealStatusReady)
	require.NoError(t, err)
	balanceAfterSettle := store.merchants[merchant.ID].BalanceMicros
	trustAfterSettle := store.traders[trader.ID].TrustMicros

	opened, err := disputes.Open(ctx, deal.ID)
	require.NoError(t, err)
	_, err = disputes.Resolve(ctx, opened.ID, FavorTrader, "dispute unfounded")
	require.NoError(t, err)

	// READY is restored without re-crediting anyone.
	require.Equal(t, domain.DealStatusReady, store.deals[deal.ID].Status)
	require.Equal(t, balanceAfterSettle, store.merchants[merchant.ID].BalanceMicros)
	require.Equal(t, trustAfterSettle, store.traders[trader.ID].TrustMicros)
	require.Equal(t, testValueMicros, store.counters[trader.ID].CompletedMicros)
}

func TestDisputeResolveIsTerminal(t *testing.T) {
	store, _, disputes := newDisputeEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusInProgress, testValueMicros)

	ctx := context.Background()
	opened, err := disputes.Open(ctx, deal.ID)
	require.NoError(t, err)
	_, err = disputes.Resolve(ctx, opened.ID, FavorTrader, "first ruling stands")
	require.NoError(t, err)

	_, err = disputes.Resolve(ctx, opened.ID, FavorMerchant, "second thoughts")
	require.ErrorIs(t, err, models.ErrDisputeAlreadyResolved)

	_, err = disputes.Take(ctx, opened.ID)
	require.ErrorIs(t, err, models.ErrDisputeAlreadyResolved)
}

func TestDisputeResolveRejectsUnknownFavor(t *testing.T) {
	_, _, disputes := newDisputeEnv()
	_, err := disputes.Resolve(context.Background(), uuid.New(), ResolutionFavor("platform"), "")
	require.Error(t, err)
}
