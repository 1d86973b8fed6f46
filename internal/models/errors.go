package models

import "errors"

var (
	// ErrNoFulfillmentAvailable means every trader and aggregator candidate
	// was exhausted. Surfaced to the caller, never retried internally.
	ErrNoFulfillmentAvailable = errors.New("no fulfillment available")

	// ErrCandidateTimeout marks one aggregator exceeding its SLA. Logged
	// per candidate; the router moves on.
	ErrCandidateTimeout = errors.New("aggregator candidate timed out")

	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidStatusTransition rejects a deal movement the lifecycle
	// does not allow, including any callback on a disputed deal.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	ErrDisputeAlreadyResolved = errors.New("dispute already resolved")

	ErrOverlappingFeeRanges = errors.New("fee ranges overlap")

	ErrDealNotFound       = errors.New("deal not found")
	ErrDisputeNotFound    = errors.New("dispute not found")
	ErrMerchantNotFound   = errors.New("merchant not found")
	ErrTraderNotFound     = errors.New("trader not found")
	ErrAggregatorNotFound = errors.New("aggregator not found")
	ErrRequisiteNotFound  = errors.New("requisite not found")
)
