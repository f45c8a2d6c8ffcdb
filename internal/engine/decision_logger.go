package engine

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Decision is one buy or sell attempt.
type Decision struct {
	RunID         string    `json:"run_id"`
	Timestamp     time.Time `json:"timestamp"`
	TickTime      time.Time `json:"tick_time"`
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Side          string    `json:"side"`
	Status        string    `json:"status"`
	Reason        string    `json:"reason"`
	Result        string    `json:"result"`
	Volume        float64   `json:"volume,omitempty"`
	FillPrice     float64   `json:"fill_price,omitempty"`
	Profit        float64   `json:"profit,omitempty"`
	RejectReason  string    `json:"reject_reason,omitempty"`
	OrderID       string    `json:"order_id,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
}

// DecisionLogger appends decisions as NDJSON. It is shared by concurrent
// runs, each decision carrying its engine's run ID; a nil logger discards
// everything.
type DecisionLogger struct {
	file   *os.File
	writer *bufio.Writer
	mu     sync.Mutex
}

func NewDecisionLogger(path string) (*DecisionLogger, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &DecisionLogger{
		file:   file,
		writer: bufio.NewWriter(file),
	}, nil
}

func (d *DecisionLogger) Append(decision Decision) {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	payload, err := json.Marshal(decision)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal decision")
		return
	}
	if _, err := d.writer.Write(append(payload, '\n')); err != nil {
		log.Error().Err(err).Msg("failed to write decision")
		return
	}
	if err := d.writer.Flush(); err != nil {
		log.Error().Err(err).Msg("failed to flush decision log")
	}
}

func (d *DecisionLogger) Close() error {
	if d == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.writer.Flush(); err != nil {
		_ = d.file.Close()
		return err
	}
	return d.file.Close()
}
