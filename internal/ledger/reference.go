package ledger

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"
)

const (
	referencePrefix = "TXN"
	debitSuffix     = "D"
	creditSuffix    = "C"
)

// ReferenceGenerator produces time-ordered correlation ids such as
// TXN20240301120000123456.
type ReferenceGenerator struct {
	now    func() time.Time
	digits func() int
}

// NewReferenceGenerator builds a generator. Nil arguments fall back to the
// wall clock and math/rand.
func NewReferenceGenerator(now func() time.Time, digits func() int) *ReferenceGenerator {
	if now == nil {
		now = time.Now
	}
	if digits == nil {
		digits = func() int { return rand.IntN(1_000_000) }
	}
	return &ReferenceGenerator{now: now, digits: digits}
}

// Next returns a fresh reference base.
func (g *ReferenceGenerator) Next() string {
	return fmt.Sprintf("%s%s%06d", referencePrefix, g.now().UTC().Format("20060102150405"), g.digits()%1_000_000)
}

// BaseReference strips the leg suffix from a two-leg reference.
func BaseReference(ref string) string {
	if strings.HasSuffix(ref, debitSuffix) || strings.HasSuffix(ref, creditSuffix) {
		return ref[:len(ref)-1]
	}
	return ref
}
