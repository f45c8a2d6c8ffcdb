package engine

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Summary reports one run. Unrealised is the mark-to-market gain of symbols
// still held at their last price.
type Summary struct {
	Run        string
	RunID      string
	Strategy   string
	MaxCoins   int
	PauseFor   string
	Tickers    int
	Wallet     []string
	Investment float64
	Profit     float64
	Unrealised float64
	Fees       float64
	Wins       int
	Losses     int
	Stales     int
	Halted     bool
}

func (s Summary) Total() float64 {
	return s.Profit + s.Unrealised
}

func (e *Engine) Summary() Summary {
	totals := e.ledger.Totals()
	wallet := e.ledger.Wallet()
	unrealised := 0.0
	for _, symbol := range wallet {
		if p, ok := e.positions[symbol]; ok {
			unrealised += p.Price*p.Volume - p.Cost
		}
	}
	return Summary{
		Run:        e.run.Name,
		RunID:      e.runID,
		Strategy:   e.run.Strategy,
		MaxCoins:   e.run.MaxCoins,
		PauseFor:   e.run.PauseFor.String(),
		Tickers:    len(e.run.Tickers),
		Wallet:     wallet,
		Investment: totals.Investment,
		Profit:     totals.Profit,
		Unrealised: unrealised,
		Fees:       totals.Fees,
		Wins:       totals.Wins,
		Losses:     totals.Losses,
		Stales:     totals.Stales,
		Halted:     e.quit,
	}
}

// Rank orders summaries by total profit, best first.
func Rank(summaries []Summary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].Total() != summaries[j].Total() {
			return summaries[i].Total() > summaries[j].Total()
		}
		return summaries[i].Run < summaries[j].Run
	})
}

func RenderSummaries(w io.Writer, summaries []Summary) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"run", "strategy", "max coins", "pause", "profit", "unrealised", "total", "fees", "wins", "losses", "stales", "wallet", "halted"})
	for _, s := range summaries {
		table.Append([]string{
			s.Run,
			s.Strategy,
			fmt.Sprint(s.MaxCoins),
			s.PauseFor,
			fmt.Sprintf("%.4f", s.Profit),
			fmt.Sprintf("%.4f", s.Unrealised),
			fmt.Sprintf("%.4f", s.Total()),
			fmt.Sprintf("%.4f", s.Fees),
			fmt.Sprint(s.Wins),
			fmt.Sprint(s.Losses),
			fmt.Sprint(s.Stales),
			strings.Join(s.Wallet, " "),
			fmt.Sprint(s.Halted),
		})
	}
	table.Render()
}
