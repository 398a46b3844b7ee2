package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// CandidateFunc adapts a function to the CandidateSource interface.
type CandidateFunc func(ctx context.Context) ([]Candidate, error)

func (f CandidateFunc) Candidates(ctx context.Context) ([]Candidate, error) {
	return f(ctx)
}

// FileCandidateSource reads the verdict engine's output from a JSON file
// dropped by the upstream screening pipeline. The file is re-read once per
// placement cycle, never mid-cycle.
type FileCandidateSource struct {
	Path string
}

type candidateRow struct {
	Symbol      string `json:"symbol"`
	TargetPrice string `json:"target_price"`
	Quantity    int64  `json:"quantity"`
	Capital     string `json:"capital"`
}

func (s *FileCandidateSource) Candidates(ctx context.Context) ([]Candidate, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil // no verdicts this cycle
		}
		return nil, err
	}

	var rows []candidateRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("candidate file %s: %w", s.Path, err)
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		price, err := decimal.NewFromString(row.TargetPrice)
		if err != nil {
			return nil, fmt.Errorf("candidate %s: bad target price %q: %w", row.Symbol, row.TargetPrice, err)
		}
		capital := decimal.Zero
		if row.Capital != "" {
			capital, err = decimal.NewFromString(row.Capital)
			if err != nil {
				return nil, fmt.Errorf("candidate %s: bad capital %q: %w", row.Symbol, row.Capital, err)
			}
		}
		out = append(out, Candidate{
			Symbol:      row.Symbol,
			TargetPrice: price,
			Quantity:    row.Quantity,
			Capital:     capital,
		})
	}
	return out, nil
}
