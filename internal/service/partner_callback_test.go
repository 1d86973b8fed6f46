package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paylane/dealflow/internal/domain"
	"github.com/paylane/dealflow/internal/models"
)

func newPartnerCallbackEnv() (*memStore, *PartnerCallbacks) {
	store, ledger := newLedgerEnv()
	return store, NewPartnerCallbacks(store, ledger)
}

func TestPartnerCallbackMinimalByDealID(t *testing.T) {
	store, callbacks := newPartnerCallbackEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusCreated, testValueMicros)

	payload := fmt.Sprintf(`{"id":%q,"amount_micros":%d,"status":"paid"}`, deal.ID, testAmountMicros)
	result, err := callbacks.Handle(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.Equal(t, domain.DealStatusReady, result.Status)
	require.Equal(t, testMerchantCredit, store.merchants[merchant.ID].BalanceMicros)
}

func TestPartnerCallbackMinimalByPartnerID(t *testing.T) {
	store, callbacks := newPartnerCallbackEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusCreated, testValueMicros)
	deal.PartnerDealID = "AGG-20260901-00042"

	payload := `{"id":"AGG-20260901-00042","status":"in_progress"}`
	result, err := callbacks.Handle(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.Equal(t, deal.ID, result.ID)
	require.Equal(t, domain.DealStatusInProgress, result.Status)
}

func TestPartnerCallbackAmountMismatchRejected(t *testing.T) {
	store, callbacks := newPartnerCallbackEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusCreated, testValueMicros)

	payload := fmt.Sprintf(`{"id":%q,"amount_micros":1,"status":"paid"}`, deal.ID)
	_, err := callbacks.Handle(context.Background(), []byte(payload))
	require.Error(t, err)
	require.Equal(t, domain.DealStatusCreated, store.deals[deal.ID].Status)
}

func TestPartnerCallbackUnknownStatusRejected(t *testing.T) {
	store, callbacks := newPartnerCallbackEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusCreated, testValueMicros)

	payload := fmt.Sprintf(`{"id":%q,"status":"weird"}`, deal.ID)
	_, err := callbacks.Handle(context.Background(), []byte(payload))
	require.Error(t, err)
	require.Equal(t, domain.DealStatusCreated, store.deals[deal.ID].Status)
}

func TestPartnerCallbackDisputedDealStaysFrozen(t *testing.T) {
	store, callbacks := newPartnerCallbackEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusDispute, testValueMicros)

	payload := fmt.Sprintf(`{"id":%q,"amount_micros":%d,"status":"paid"}`, deal.ID, testAmountMicros)
	_, err := callbacks.Handle(context.Background(), []byte(payload))
	require.ErrorIs(t, err, models.ErrInvalidStatusTransition)
	require.Equal(t, domain.DealStatusDispute, store.deals[deal.ID].Status)
	require.Zero(t, store.merchants[merchant.ID].BalanceMicros)
	require.Equal(t, testValueMicros, store.traders[trader.ID].FrozenMicros)
}

func TestPartnerCallbackUnknownDeal(t *testing.T) {
	_, callbacks := newPartnerCallbackEnv()
	payload := `{"id":"AGG-UNKNOWN","status":"paid"}`
	_, err := callbacks.Handle(context.Background(), []byte(payload))
	require.ErrorIs(t, err, models.ErrDealNotFound)
}

func TestPartnerCallbackRichDealStatus(t *testing.T) {
	store, callbacks := newPartnerCallbackEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusInProgress, testValueMicros)

	payload := fmt.Sprintf(`{"type":"deal_status","transaction_id":%q,"data":{"status":"completed"}}`, deal.ID)
	result, err := callbacks.Handle(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.Equal(t, domain.DealStatusReady, result.Status)
}

func TestPartnerCallbackRichDispute(t *testing.T) {
	store, callbacks := newPartnerCallbackEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusInProgress, testValueMicros)

	payload := fmt.Sprintf(`{"type":"dispute","transaction_id":%q}`, deal.ID)
	result, err := callbacks.Handle(context.Background(), []byte(payload))
	require.NoError(t, err)
	require.Equal(t, domain.DealStatusDispute, result.Status)

	dispute, err := store.Reader().GetDisputeByDeal(context.Background(), deal.ID)
	require.NoError(t, err)
	require.NotNil(t, dispute)
	require.Equal(t, domain.DisputeStatusOpen, dispute.Status)
}

func TestPartnerCallbackRichUnknownType(t *testing.T) {
	store, callbacks := newPartnerCallbackEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusInProgress, testValueMicros)

	payload := fmt.Sprintf(`{"type":"balance_update","transaction_id":%q}`, deal.ID)
	_, err := callbacks.Handle(context.Background(), []byte(payload))
	require.Error(t, err)
}

func TestPartnerCallbackRedeliveryIsIdempotent(t *testing.T) {
	store, callbacks := newPartnerCallbackEnv()
	merchant := seedMerchant(store)
	trader := seedTrader(store, testTraderTrustStart, testValueMicros)
	deal := seedTraderDeal(store, merchant, trader, domain.DealStatusCreated, testValueMicros)

	payload := fmt.Sprintf(`{"id":%q,"status":"paid"}`, deal.ID)
	ctx := context.Background()
	_, err := callbacks.Handle(ctx, []byte(payload))
	require.NoError(t, err)
	_, err = callbacks.Handle(ctx, []byte(payload))
	require.NoError(t, err)

	require.Equal(t, testMerchantCredit, store.merchants[merchant.ID].BalanceMicros)
	require.Equal(t, testValueMicros, store.counters[trader.ID].CompletedMicros)
}

func TestPartnerCallbackMalformedPayload(t *testing.T) {
	_, callbacks := newPartnerCallbackEnv()
	_, err := callbacks.Handle(context.Background(), []byte(`{"id":`))
	require.Error(t, err)

	_, err = callbacks.Handle(context.Background(), []byte(`{"status":"paid"}`))
	require.Error(t, err)
}
