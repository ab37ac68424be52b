package ack

import "time"

type FailureReason struct {
	Seq    uint64 `json:"seq" yaml:"seq"`
	Offset int64  `json:"offset" yaml:"offset"`
	Kind   string `json:"kind" yaml:"kind"`
	Reason string `json:"reason" yaml:"reason"`
}

// Summary is the outcome of one run. Only the Tracker mutates it; the
// value returned by Finalize is a detached copy.
type Summary struct {
	RunID      string    `json:"run_id" yaml:"run_id"`
	Input      string    `json:"input" yaml:"input"`
	Topic      string    `json:"topic" yaml:"topic"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time `json:"finished_at" yaml:"finished_at"`

	Seen      int64 `json:"seen" yaml:"seen"`
	Succeeded int64 `json:"succeeded" yaml:"succeeded"`
	Failed    int64 `json:"failed" yaml:"failed"`
	Retried   int64 `json:"retried" yaml:"retried"`

	FailureReasons []FailureReason `json:"failure_reasons,omitempty" yaml:"failure_reasons,omitempty"`

	Aborted     bool   `json:"aborted" yaml:"aborted"`
	AbortReason string `json:"abort_reason,omitempty" yaml:"abort_reason,omitempty"`
	Checkpoint  int64  `json:"checkpoint" yaml:"checkpoint"`
}

// OK reports a clean run: not aborted and nothing failed.
func (s Summary) OK() bool { return !s.Aborted && s.Failed == 0 }

// Accounted reports whether every seen record reached a terminal outcome.
func (s Summary) Accounted() bool { return s.Succeeded+s.Failed == s.Seen }

func (s Summary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}

// Counts is a point-in-time read of the running totals.
type Counts struct {
	Seen, Succeeded, Failed, Retried int64
	InFlight                         int
}
