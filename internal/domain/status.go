package domain

import "fmt"

// DealStatus is the internal deal lifecycle vocabulary.
type DealStatus string

const (
	DealStatusCreated    DealStatus = "CREATED"
	DealStatusInProgress DealStatus = "IN_PROGRESS"
	DealStatusReady      DealStatus = "READY"
	DealStatusExpired    DealStatus = "EXPIRED"
	DealStatusCanceled   DealStatus = "CANCELED"
	DealStatusDispute    DealStatus = "DISPUTE"
)

// Terminal reports whether the deal has reached a final settlement state.
// A disputed deal is frozen but not terminal: resolution decides where it
// lands.
func (s DealStatus) Terminal() bool {
	switch s {
	case DealStatusReady, DealStatusExpired, DealStatusCanceled:
		return true
	}
	return false
}

// Valid reports whether the status belongs to the internal vocabulary.
func (s DealStatus) Valid() bool {
	switch s {
	case DealStatusCreated, DealStatusInProgress, DealStatusReady,
		DealStatusExpired, DealStatusCanceled, DealStatusDispute:
		return true
	}
	return false
}

// dealTransitions enumerates the allowed (from, to) pairs for
// callback-driven movement. DISPUTE has no exits here: a disputed deal is
// frozen, and only dispute resolution moves it on, recording its own
// transitions outside this table.
var dealTransitions = map[DealStatus]map[DealStatus]struct{}{
	DealStatusCreated: {
		DealStatusInProgress: {},
		DealStatusReady:      {},
		DealStatusExpired:    {},
		DealStatusCanceled:   {},
		DealStatusDispute:    {},
	},
	DealStatusInProgress: {
		DealStatusReady:    {},
		DealStatusExpired:  {},
		DealStatusCanceled: {},
		DealStatusDispute:  {},
	},
	DealStatusDispute: {},
	// READY and EXPIRED are terminal for settlement purposes but may still
	// be contested.
	DealStatusReady: {
		DealStatusDispute: {},
	},
	DealStatusExpired: {
		DealStatusDispute: {},
	},
	DealStatusCanceled: {},
}

// CanTransition reports whether from→to is an allowed deal transition.
func CanTransition(from, to DealStatus) bool {
	next, ok := dealTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// MapExternalStatus converts an aggregator-side status word into the
// internal vocabulary. The mapping is exhaustive: an unrecognized external
// status is an error, never passed through.
func MapExternalStatus(external string) (DealStatus, error) {
	switch external {
	case "created", "pending", "new":
		return DealStatusInProgress, nil
	case "in_progress", "processing", "accepted":
		return DealStatusInProgress, nil
	case "ready", "success", "completed", "paid":
		return DealStatusReady, nil
	case "expired", "timeout":
		return DealStatusExpired, nil
	case "canceled", "cancelled", "rejected":
		return DealStatusCanceled, nil
	case "dispute", "appeal":
		return DealStatusDispute, nil
	}
	return "", fmt.Errorf("unrecognized external status %q", external)
}

// DisputeStatus is the dispute lifecycle vocabulary.
type DisputeStatus string

const (
	DisputeStatusOpen          DisputeStatus = "OPEN"
	DisputeStatusInProgress    DisputeStatus = "IN_PROGRESS"
	DisputeStatusFavorMerchant DisputeStatus = "RESOLVED_FAVOR_MERCHANT"
	DisputeStatusFavorTrader   DisputeStatus = "RESOLVED_FAVOR_TRADER"
)

// Resolved reports whether the dispute has reached a terminal resolution.
func (s DisputeStatus) Resolved() bool {
	return s == DisputeStatusFavorMerchant || s == DisputeStatusFavorTrader
}

// TrafficType classifies the origin of a deal for trader opt-in filtering.
type TrafficType string

const (
	TrafficTypeAny     TrafficType = "any"
	TrafficTypePrimary TrafficType = "primary"
	TrafficTypeReturn  TrafficType = "return"
)
