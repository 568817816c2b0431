package ordersync

import (
	"time"

	"github.com/Additional-Code/mesbridge/pkg/errorbank"
)

// Stage is how far a sync attempt got before it ended.
type Stage string

const (
	StageStarted       Stage = "started"
	StageHeaderWritten Stage = "header_written"
	StageLinesWritten  Stage = "lines_written"
	StageVerified      Stage = "verified"
	StageCommitted     Stage = "committed"
)

// Result is the outcome of one sync attempt: either Synced or Failed.
type Result interface {
	OrderName() string
	isResult()
}

// Synced reports a committed remote order.
type Synced struct {
	Order         string
	RemoteOrder   string
	RemoteOrderID int64
	OperationID   int64
	LogID         string
	Duration      time.Duration
	// LocalErr is set when the remote commit succeeded but recording it
	// locally did not. The remote order must not be resubmitted.
	LocalErr error
}

// Failed reports an attempt that left nothing committed remotely.
type Failed struct {
	Order    string
	LogID    string
	Stage    Stage
	Err      error
	Duration time.Duration
}

func (s Synced) OrderName() string { return s.Order }
func (Synced) isResult()             {}

func (f Failed) OrderName() string { return f.Order }
func (Failed) isResult()             {}

// Kind classifies the failure.
func (f Failed) Kind() errorbank.Kind { return errorbank.KindOf(f.Err) }

// Retryable reports whether resubmitting the order may succeed.
func (f Failed) Retryable() bool { return errorbank.Retryable(f.Err) }

func (f Failed) Error() string {
	if f.Err == nil {
		return "sync failed"
	}
	return f.Err.Error()
}
