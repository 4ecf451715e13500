package checkout

// Decision is the affordability verdict for a bucket.
type Decision struct {
	CanProceed bool  `json:"can_proceed"`
	Shortfall  int64 `json:"shortfall"`
}

// Evaluate admits a checkout when the remaining limit covers the bucket total.
func Evaluate(bucketTotal, remainingLimit int64) Decision {
	if remainingLimit >= bucketTotal {
		return Decision{CanProceed: true}
	}
	return Decision{Shortfall: bucketTotal - remainingLimit}
}
