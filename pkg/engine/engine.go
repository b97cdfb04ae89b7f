// Package engine computes amortization schedules and per-loan summary
// metrics. All functions are pure: no shared state, deterministic for a
// given input (SummarizeLoan reads the wall clock once to locate "today").
package engine

import (
	"math"
	"time"

	"github.com/mcclellann/debtcalc/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	// ceilingOverrun bounds the simulation at tenure+ceilingOverrun months so
	// a rate/payment combination that never retires the balance still yields
	// a finite schedule.
	ceilingOverrun = 600

	moneyScale = 2
)

var (
	twelve  = decimal.NewFromInt(12)
	hundred = decimal.NewFromInt(100)

	// settleEpsilon is the balance at or below which a loan counts as paid
	// off, in currency base units.
	settleEpsilon = decimal.NewFromFloat(0.01)
)

// MonthlyRate converts a nominal annual percentage rate to a monthly
// fractional rate: annualRate / 12 / 100.
func MonthlyRate(annualRate decimal.Decimal) decimal.Decimal {
	return annualRate.Div(twelve).Div(hundred)
}

// EMI returns the fixed installment that fully amortizes principal over n
// months at the given nominal annual rate, via P·r·(1+r)^n / ((1+r)^n − 1).
// A zero rate reduces to principal / n; n ≤ 0 yields zero. The power term is
// evaluated in float64 and the result carried back into decimal.
func EMI(principal, annualRate decimal.Decimal, n int) decimal.Decimal {
	if n <= 0 {
		return decimal.Zero
	}
	r := MonthlyRate(annualRate)
	if r.IsZero() {
		return principal.Div(decimal.NewFromInt(int64(n)))
	}

	rf := r.InexactFloat64()
	factor := math.Pow(1+rf, float64(n))
	if factor <= 1 {
		// Rate too small to register in float64: treat as zero-rate.
		return principal.Div(decimal.NewFromInt(int64(n)))
	}
	if math.IsInf(factor, 1) {
		// Annuity formula limit as (1+r)^n → ∞ is P·r.
		return principal.Mul(r).Round(moneyScale)
	}

	payment := principal.InexactFloat64() * rf * factor / (factor - 1)
	if math.IsNaN(payment) || math.IsInf(payment, 0) {
		return principal.Mul(r).Round(moneyScale)
	}
	return decimal.NewFromFloat(payment).Round(moneyScale)
}

// AmortizeWithExtra simulates month-by-month repayment of principal at the
// given rate over an n-month contractual term, applying the standard
// installment (computed once, held constant) plus extra toward principal each
// month. Interest is charged on the opening balance; principal-plus-extra is
// capped so the balance never goes negative. The simulation stops once the
// balance drops to settleEpsilon or n+600 months have elapsed. Calling again
// with the same inputs reproduces the same rows.
func AmortizeWithExtra(principal, annualRate decimal.Decimal, n int, start models.Date, extra decimal.Decimal) []models.ScheduleRow {
	r := MonthlyRate(annualRate)
	payment := EMI(principal, annualRate, n)

	var rows []models.ScheduleRow
	bal := principal
	cursor := start
	for i := 0; bal.GreaterThan(settleEpsilon) && i < n+ceilingOverrun; {
		i++
		cursor = cursor.AddMonths(1)

		interest := bal.Mul(r).Round(moneyScale)
		principalPay := payment.Sub(interest)
		extraApplied := extra
		if principalPay.Add(extraApplied).GreaterThan(bal) {
			extraApplied = decimal.Max(decimal.Zero, bal.Sub(principalPay))
		}
		newBal := decimal.Max(decimal.Zero, bal.Sub(principalPay).Sub(extraApplied))

		rows = append(rows, models.ScheduleRow{
			Index:        i,
			Date:         cursor,
			Payment:      payment,
			Interest:     interest,
			Principal:    principalPay,
			ExtraApplied: extraApplied,
			Balance:      newBal,
		})
		bal = newBal
	}
	return rows
}

// SummarizeLoan runs the baseline (no extra) and actual (with extra)
// simulations for a loan and derives the aggregate metrics. The outstanding
// balance is evaluated against the current wall-clock date.
func SummarizeLoan(loan models.Loan) models.LoanSummary {
	return summarizeAt(loan, models.Today())
}

func summarizeAt(loan models.Loan, today models.Date) models.LoanSummary {
	base := AmortizeWithExtra(loan.Principal, loan.AnnualRate, loan.TenureMonths, loan.StartDate, decimal.Zero)
	sched := AmortizeWithExtra(loan.Principal, loan.AnnualRate, loan.TenureMonths, loan.StartDate, loan.ExtraMonthly)

	summary := models.LoanSummary{
		EMI:           EMI(loan.Principal, loan.AnnualRate, loan.TenureMonths),
		PayoffBase:    payoffDate(base, loan.StartDate),
		PayoffExtra:   payoffDate(sched, loan.StartDate),
		InterestBase:  sumInterest(base),
		InterestExtra: sumInterest(sched),
		Remaining:     loan.Principal,
		Schedule:      sched,
		ScheduleBase:  base,
	}

	if saved := len(base) - len(sched); saved > 0 {
		summary.MonthsSaved = saved
	}
	// Extra payments never increase total interest; a negative difference is
	// a rounding artifact and clamps to zero.
	summary.InterestSaved = decimal.Max(decimal.Zero, summary.InterestBase.Sub(summary.InterestExtra))

	for _, row := range sched {
		if row.Date.After(today.Time) {
			break
		}
		summary.Remaining = row.Balance
	}

	if len(sched) >= loan.TenureMonths+ceilingOverrun {
		last := sched[len(sched)-1]
		summary.NonAmortizing = last.Balance.GreaterThan(settleEpsilon)
	}
	return summary
}

func payoffDate(rows []models.ScheduleRow, start models.Date) models.Date {
	if len(rows) == 0 {
		return start
	}
	return rows[len(rows)-1].Date
}

func sumInterest(rows []models.ScheduleRow) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Interest)
	}
	return total
}

// Closed reports whether a loan's outstanding balance is within one currency
// unit of zero, the threshold the overview uses to hide settled loans.
func Closed(s models.LoanSummary) bool {
	return s.Remaining.LessThanOrEqual(decimal.NewFromInt(1))
}

// earliestPayoff is the floor LatestPayoff starts from when aggregating.
var earliestPayoff = models.NewDate(2000, time.January, 1)

// KPIs are portfolio-level aggregates over a set of loans: totals across the
// loans visible under the showClosed filter, plus the sum of standard
// installments across every loan.
type KPIs struct {
	TotalOutstanding   decimal.Decimal `json:"totalOutstanding"`
	TotalEMI           decimal.Decimal `json:"totalEmi"`
	TotalInterestSaved decimal.Decimal `json:"totalInterestSaved"`
	LatestPayoff       models.Date     `json:"latestPayoff"`
	ClosedCount        int             `json:"closedCount"`
}

// Aggregate computes portfolio KPIs. Closed loans are excluded from the
// outstanding/saved/payoff totals unless showClosed is set; TotalEMI always
// spans every loan.
func Aggregate(loans []models.Loan, showClosed bool) KPIs {
	k := KPIs{
		TotalOutstanding:   decimal.Zero,
		TotalEMI:           decimal.Zero,
		TotalInterestSaved: decimal.Zero,
		LatestPayoff:       earliestPayoff,
	}
	for _, loan := range loans {
		s := SummarizeLoan(loan)
		k.TotalEMI = k.TotalEMI.Add(s.EMI)
		if Closed(s) {
			k.ClosedCount++
			if !showClosed {
				continue
			}
		}
		k.TotalOutstanding = k.TotalOutstanding.Add(s.Remaining)
		k.TotalInterestSaved = k.TotalInterestSaved.Add(s.InterestSaved)
		if s.PayoffExtra.After(k.LatestPayoff.Time) {
			k.LatestPayoff = s.PayoffExtra
		}
	}
	return k
}
