package trade

import (
	"errors"
	"time"
)

var (
	ErrValidationRejected = errors.New("validation rejected")
	ErrExecutionFailed    = errors.New("execution failed")
	ErrExternalTimeout    = errors.New("external call timed out")
)

type ExecutionStatus string

const (
	StatusFilled   ExecutionStatus = "filled"
	StatusRejected ExecutionStatus = "rejected"
	StatusFailed   ExecutionStatus = "failed"
)

type ExecutionResult struct {
	Action         Action          `json:"action"`
	Status         ExecutionStatus `json:"status"`
	FilledPrice    float64         `json:"filled_price,omitempty"`
	FilledQuantity float64         `json:"filled_quantity,omitempty"`
	BrokerOrderID  string          `json:"broker_order_id,omitempty"`
	Error          string          `json:"error,omitempty"`
	At             time.Time       `json:"at"`
}

func Rejected(a Action, reason string, at time.Time) ExecutionResult {
	return ExecutionResult{Action: a, Status: StatusRejected, Error: reason, At: at}
}

func Failed(a Action, err error, at time.Time) ExecutionResult {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return ExecutionResult{Action: a, Status: StatusFailed, Error: msg, At: at}
}
