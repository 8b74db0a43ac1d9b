package analytics

import (
	"math"
	"time"

	"github.com/hiltonbrown/ledgerbot-sub004/internal/mirror"
	"github.com/hiltonbrown/ledgerbot-sub004/internal/shared"
)

// BillDue is one payable inside the forecast window. Amount is the bill's due
// amount; ScheduledAmount is what draft schedules have already claimed, so
// Amount − ScheduledAmount is what remains schedulable.
type BillDue struct {
	EntryID         int64   `json:"billId"`
	ContactID       int64   `json:"contactId"`
	ContactName     string  `json:"contactName"`
	Number          string  `json:"number"`
	DueDate         string  `json:"dueDate"`
	Amount          float64 `json:"amount"`
	ScheduledAmount float64 `json:"scheduledAmount"`
	Status          string  `json:"status"`
}

// DayForecast is one calendar day of the cash-flow forecast.
type DayForecast struct {
	Date             string  `json:"date"`
	BillsDue         int     `json:"billsDue"`
	AmountDue        float64 `json:"amountDue"`
	CumulativeAmount float64 `json:"cumulativeAmount"`
}

// ForecastSummary aggregates the whole window.
type ForecastSummary struct {
	TotalDue   float64 `json:"totalDue"`
	BillCount  int     `json:"billCount"`
	PeakDate   string  `json:"peakDate,omitempty"`
	PeakAmount float64 `json:"peakAmount"`
}

// Forecast is the payables cash-flow picture for a date window.
type Forecast struct {
	BillsByDate map[string][]BillDue `json:"billsByDate"`
	Days        []DayForecast        `json:"forecast"`
	Summary     ForecastSummary      `json:"summary"`
}

// BuildForecast buckets unpaid bills by due day across [start, end] and
// accumulates a running total. Every calendar day in the window appears in
// the output, including days with nothing due. Per-bill allocations from
// draft schedules are netted out so the day amounts reflect
// amount-still-schedulable rather than raw outstanding.
func BuildForecast(start, end time.Time, bills []mirror.LedgerEntry, allocations map[int64]float64, contactNames map[int64]string) Forecast {
	start, end = shared.Day(start), shared.Day(end)

	forecast := Forecast{BillsByDate: make(map[string][]BillDue)}
	dayAmounts := make(map[string]float64)
	dayCounts := make(map[string]int)

	for _, bill := range bills {
		due := bill.Total - bill.AmountPaid
		if due <= 0 {
			continue
		}
		scheduled := math.Min(allocations[bill.ID], due)
		day := shared.Day(bill.DueDate).Format("2006-01-02")

		forecast.BillsByDate[day] = append(forecast.BillsByDate[day], BillDue{
			EntryID:         bill.ID,
			ContactID:       bill.ContactID,
			ContactName:     contactNames[bill.ContactID],
			Number:          bill.Number,
			DueDate:         day,
			Amount:          due,
			ScheduledAmount: scheduled,
			Status:          string(bill.Status),
		})
		dayAmounts[day] += due - scheduled
		dayCounts[day]++
	}

	var cumulative float64
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		amount := dayAmounts[key]
		cumulative += amount
		forecast.Days = append(forecast.Days, DayForecast{
			Date:             key,
			BillsDue:         dayCounts[key],
			AmountDue:        amount,
			CumulativeAmount: cumulative,
		})
		forecast.Summary.BillCount += dayCounts[key]
		if amount > forecast.Summary.PeakAmount {
			forecast.Summary.PeakAmount = amount
			forecast.Summary.PeakDate = key
		}
	}
	forecast.Summary.TotalDue = cumulative

	return forecast
}
