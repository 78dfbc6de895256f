// Package cost estimates what a session has spent on the Gemini API.
package cost

import (
	"fmt"
	"sync"
)

const (
	CurrencyUSD = "USD"
)

// Summary is a point-in-time view of a Meter.
type Summary struct {
	Edits       int
	Generations int
	Total       float64
	Currency    string
	// Unpriced counts calls to models with no known price.
	Unpriced int
}

func (s Summary) Calls() int {
	return s.Edits + s.Generations
}

func (s Summary) String() string {
	str := fmt.Sprintf("~$%.3f %s (%d edit(s), %d generation(s))", s.Total, s.Currency, s.Edits, s.Generations)
	if s.Unpriced > 0 {
		str += fmt.Sprintf(", %d call(s) not priced", s.Unpriced)
	}
	return str
}

// Meter accumulates the estimated cost of successful image calls. It is
// safe for concurrent use.
type Meter struct {
	mu      sync.Mutex
	summary Summary
}

func NewMeter() *Meter {
	return &Meter{summary: Summary{Currency: CurrencyUSD}}
}

func (m *Meter) RecordEdit(model string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary.Edits++
	return m.add(model)
}

func (m *Meter) RecordGeneration(model string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summary.Generations++
	return m.add(model)
}

func (m *Meter) add(model string) float64 {
	price, ok := GetPrice(model)
	if !ok {
		m.summary.Unpriced++
		return 0
	}
	m.summary.Total += price
	return price
}

func (m *Meter) Summary() Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.summary
}
