package models

import (
	"github.com/shopspring/decimal"
)

// Loan is a borrower's fixed-rate installment obligation. Rates are nominal
// annual percentages (8.2 means 8.2% APR); amounts are in the currency's base
// unit.
type Loan struct {
	ID           string          `json:"id"`
	Description  string          `json:"description"`
	Principal    decimal.Decimal `json:"principal"`
	StartDate    Date            `json:"startDate"`
	AnnualRate   decimal.Decimal `json:"annualRate"`
	TenureMonths int             `json:"tenureMonths"`
	ExtraMonthly decimal.Decimal `json:"extraMonthly"`
}

// ScheduleRow is one simulated month of repayment. Index is 1-based and
// counts simulation months, not calendar months.
type ScheduleRow struct {
	Index        int             `json:"index"`
	Date         Date            `json:"date"`
	Payment      decimal.Decimal `json:"payment"`
	Interest     decimal.Decimal `json:"interest"`
	Principal    decimal.Decimal `json:"principal"`
	ExtraApplied decimal.Decimal `json:"extraApplied"`
	Balance      decimal.Decimal `json:"balance"`
}

// LoanSummary holds the metrics derived from a baseline (no extra payment)
// and an actual (with extra payment) simulation of one loan. It is ephemeral:
// recomputed on demand, never stored.
type LoanSummary struct {
	EMI           decimal.Decimal `json:"emi"`
	PayoffBase    Date            `json:"payoffBase"`
	PayoffExtra   Date            `json:"payoffExtra"`
	MonthsSaved   int             `json:"monthsSaved"`
	InterestBase  decimal.Decimal `json:"interestBase"`
	InterestExtra decimal.Decimal `json:"interestExtra"`
	InterestSaved decimal.Decimal `json:"interestSaved"`
	Remaining     decimal.Decimal `json:"remaining"`
	// NonAmortizing is set when the simulation hit its iteration ceiling with
	// balance still outstanding, i.e. the installment never retires the loan.
	NonAmortizing bool          `json:"nonAmortizing"`
	Schedule      []ScheduleRow `json:"schedule"`
	ScheduleBase  []ScheduleRow `json:"scheduleBase"`
}

// SortKey selects the ordering of the loan overview.
type SortKey string

const (
	SortByPayoff      SortKey = "payoff"
	SortByOutstanding SortKey = "outstanding"
)

// SanitizeSortKey coerces an arbitrary value to a recognized SortKey,
// defaulting to SortByPayoff.
func SanitizeSortKey(v string) SortKey {
	if SortKey(v) == SortByOutstanding {
		return SortByOutstanding
	}
	return SortByPayoff
}

// UIState is the presentation selection/sort/filter state kept alongside the
// loan list. SelectedID is nil when nothing is selected.
type UIState struct {
	ShowClosed bool    `json:"showClosed"`
	SortBy     SortKey `json:"sortBy"`
	SelectedID *string `json:"selectedId"`
}

// LoanPatch carries a partial update for a loan; nil fields are left
// untouched.
type LoanPatch struct {
	Description  *string          `json:"description"`
	Principal    *decimal.Decimal `json:"principal"`
	StartDate    *Date            `json:"startDate"`
	AnnualRate   *decimal.Decimal `json:"annualRate"`
	TenureMonths *int             `json:"tenureMonths"`
	ExtraMonthly *decimal.Decimal `json:"extraMonthly"`
}

// MaxAnnualRate bounds rate edits at the editing boundary. The engine itself
// accepts any non-negative rate.
var MaxAnnualRate = decimal.NewFromInt(30)

// Clamp pulls the supplied patch fields into their allowed ranges: principal
// and extra payment to ≥ 0, annual rate to [0, MaxAnnualRate], tenure to ≥ 1.
// Out-of-range edits are adjusted, never rejected.
func (p *LoanPatch) Clamp() {
	if p.Principal != nil && p.Principal.IsNegative() {
		*p.Principal = decimal.Zero
	}
	if p.AnnualRate != nil {
		*p.AnnualRate = clampDecimal(*p.AnnualRate, decimal.Zero, MaxAnnualRate)
	}
	if p.TenureMonths != nil && *p.TenureMonths < 1 {
		*p.TenureMonths = 1
	}
	if p.ExtraMonthly != nil && p.ExtraMonthly.IsNegative() {
		*p.ExtraMonthly = decimal.Zero
	}
}

// Apply overlays the patch onto a loan, leaving absent fields unchanged. The
// loan's ID is never patched.
func (p *LoanPatch) Apply(l *Loan) {
	if p.Description != nil {
		l.Description = *p.Description
	}
	if p.Principal != nil {
		l.Principal = *p.Principal
	}
	if p.StartDate != nil {
		l.StartDate = *p.StartDate
	}
	if p.AnnualRate != nil {
		l.AnnualRate = *p.AnnualRate
	}
	if p.TenureMonths != nil {
		l.TenureMonths = *p.TenureMonths
	}
	if p.ExtraMonthly != nil {
		l.ExtraMonthly = *p.ExtraMonthly
	}
}

func clampDecimal(v, min, max decimal.Decimal) decimal.Decimal {
	if v.LessThan(min) {
		return min
	}
	if v.GreaterThan(max) {
		return max
	}
	return v
}
