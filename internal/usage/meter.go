// Package usage gates paid LLM calls behind per-plan quotas.
package usage

import (
	"context"
	"errors"

	"github.com/suPer8Hu/counsel-platform/internal/account"
)

var ErrQuotaExceeded = errors.New("usage quota exceeded")

// Meter is consulted before every model call and updated after every exchange.
type Meter interface {
	CheckAvailable(ctx context.Context, accountID uint64) error
	RecordUsage(ctx context.Context, accountID uint64, inputSize, outputSize int) error
}

type PlanResolver interface {
	PlanOf(ctx context.Context, accountID uint64) (account.Plan, error)
}

// Limit bounds one plan per window. Zero means unlimited.
type Limit struct {
	Messages int `json:"messages"`
	Chars    int `json:"chars"`
}

func (l Limit) exceeded(s Snapshot) bool {
	if l.Messages > 0 && s.Messages >= int64(l.Messages) {
		return true
	}
	if l.Chars > 0 && s.Chars >= int64(l.Chars) {
		return true
	}
	return false
}

type Limits map[account.Plan]Limit

func DefaultLimits() Limits {
	return Limits{
		account.PlanFree:  {Messages: 30, Chars: 30000},
		account.PlanPaid:  {Messages: 500, Chars: 1000000},
		account.PlanAdmin: {},
	}
}

func (l Limits) For(plan account.Plan) Limit {
	if lim, ok := l[plan]; ok {
		return lim
	}
	return l[account.PlanFree]
}

// Snapshot is the usage recorded in the current window.
type Snapshot struct {
	Plan     account.Plan `json:"plan"`
	Messages int64        `json:"messages"`
	Chars    int64        `json:"chars"`
	Limit    Limit        `json:"limit"`
}
