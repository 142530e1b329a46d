package model

// PoolStatus tracks a pool's progress through one epoch's run.
type PoolStatus string

const (
	StatusDiscovered     PoolStatus = "discovered"
	StatusExtracted      PoolStatus = "extracted"
	StatusRewardResolved PoolStatus = "rewardResolved"
	StatusNormalized     PoolStatus = "normalized"
	StatusEmitted        PoolStatus = "emitted"

	// Degraded terminal states, one per failing stage. rewardUnknown still
	// reaches the sink with the reward fields absent; the others drop the
	// pool for the epoch.
	StatusExtractionFailed       PoolStatus = "extractionFailed"
	StatusNormalizationFailed    PoolStatus = "normalizationFailed"
	StatusEmissionFailed         PoolStatus = "emissionFailed"
	StatusRewardUnknown          PoolStatus = "rewardUnknown"
	StatusClassificationConflict PoolStatus = "classificationConflict"
)

// Terminal reports whether no further processing happens for the pool.
func (s PoolStatus) Terminal() bool {
	switch s {
	case StatusEmitted, StatusExtractionFailed, StatusNormalizationFailed,
		StatusEmissionFailed, StatusRewardUnknown, StatusClassificationConflict:
		return true
	}
	return false
}
