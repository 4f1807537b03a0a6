// Package muls is the utility layer: Q-values and retrieval/outcome
// counters carried by entities and memory records. The repository stores
// results; the learning rule itself lives here so policy stays swappable.
package muls

import "time"

// DefaultAlpha is the learning rate for the Q update rule.
const DefaultAlpha = 0.1

// InitialQValue seeds every new utility record.
const InitialQValue = 0.5

// Utility tracks the learned usefulness of a record.
type Utility struct {
	QValue             float64    `json:"qValue"`
	RetrievalCount     int        `json:"retrievalCount"`
	SuccessCount       int        `json:"successCount"`
	FailureCount       int        `json:"failureCount"`
	LastAccessedAt     *time.Time `json:"lastAccessedAt,omitempty"`
	LastQValueUpdateAt *time.Time `json:"lastQValueUpdateAt,omitempty"`
}

// NewUtility returns a utility record at the neutral starting point.
func NewUtility() Utility {
	return Utility{QValue: InitialQValue}
}

// UpdateQ applies the incremental rule q' = q + alpha*(s - q), clamped to
// [0,1]. s is 1 for success and 0 for failure.
func UpdateQ(q float64, success bool, alpha float64) float64 {
	s := 0.0
	if success {
		s = 1.0
	}
	return Clamp(q + alpha*(s-q))
}

// Clamp bounds a Q-value to [0,1].
func Clamp(q float64) float64 {
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

// Bearer is implemented by records that carry a utility block.
type Bearer interface {
	UtilityRef() *Utility
}
