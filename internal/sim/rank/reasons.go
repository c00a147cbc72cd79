package rank

import "errors"

// Reason codes for purchase failures, as carried on the wire and in logs.
const (
	ReasonUnknownRank       = "E_UNKNOWN_RANK"
	ReasonAlreadyOwned      = "E_ALREADY_OWNED"
	ReasonNotPurchasable    = "E_NOT_PURCHASABLE"
	ReasonAlreadyMaxRank    = "E_ALREADY_MAX_RANK"
	ReasonPathLocked        = "E_PATH_LOCKED"
	ReasonSkippedTier       = "E_SKIPPED_TIER"
	ReasonInsufficientFunds = "E_INSUFFICIENT_FUNDS"
	ReasonInternal          = "E_INTERNAL"
)

var reasonBySentinel = []struct {
	err  error
	code string
}{
	{ErrUnknownRank, ReasonUnknownRank},
	{ErrAlreadyOwned, ReasonAlreadyOwned},
	{ErrNotPurchasable, ReasonNotPurchasable},
	{ErrAlreadyMaxRank, ReasonAlreadyMaxRank},
	{ErrPathLocked, ReasonPathLocked},
	{ErrSkippedTier, ReasonSkippedTier},
	{ErrInsufficientFunds, ReasonInsufficientFunds},
}

// Reason maps a purchase error to its code. nil maps to "".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasonBySentinel {
		if errors.Is(err, r.err) {
			return r.code
		}
	}
	return ReasonInternal
}
