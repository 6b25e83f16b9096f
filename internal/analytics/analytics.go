// Package analytics computes read-only rollups over the usage ledger.
package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/goodtune/focusguard/internal/storage"
)

// DefaultPeriod is the number of days covered when no period is given.
const DefaultPeriod = 7

// MaxPeriod bounds the requested window.
const MaxPeriod = 366

// DomainStats is the rollup for one domain. Durations are milliseconds.
type DomainStats struct {
	Domain       string           `json:"domain"`
	TotalTime    int64            `json:"total_time"`
	DailyData    map[string]int64 `json:"daily_data"`
	ActiveDays   int              `json:"active_days"`
	AverageDaily int64            `json:"average_daily"`
	WeekdayTotal int64            `json:"weekday_total"`
	WeekendTotal int64            `json:"weekend_total"`
	FocusScore   int              `json:"focus_score"`
	Trend        float64          `json:"trend"`
}

// Summary totals the whole period across domains.
type Summary struct {
	TotalTime    int64  `json:"total_time"`
	ActiveDays   int    `json:"active_days"`
	AverageDaily int64  `json:"average_daily"`
	TopDomain    string `json:"top_domain,omitempty"`
}

// Report is the result of Aggregate.
type Report struct {
	Period  int           `json:"period"`
	Start   string        `json:"start"`
	End     string        `json:"end"`
	Summary Summary       `json:"summary"`
	Domains []DomainStats `json:"domains"`
}

// Dates returns the period's calendar date keys, oldest first, ending today.
func Dates(period int, today time.Time) []string {
	dates := make([]string, period)
	for i := 0; i < period; i++ {
		dates[i] = storage.DateKey(today.AddDate(0, 0, i-period+1))
	}
	return dates
}

// Aggregate rolls up the last period days of ledger, ending with today.
// Domains without usage in the window are omitted.
func Aggregate(ledger storage.Ledger, period int, today time.Time) Report {
	if period <= 0 {
		period = DefaultPeriod
	}
	if period > MaxPeriod {
		period = MaxPeriod
	}

	dates := Dates(period, today)
	report := Report{
		Period:  period,
		Start:   dates[0],
		End:     dates[len(dates)-1],
		Domains: []DomainStats{},
	}

	activeDates := make(map[string]bool)
	for _, domain := range ledger.Domains() {
		stats := domainStats(domain, ledger[domain], dates)
		if stats.TotalTime == 0 {
			continue
		}
		for date, ms := range stats.DailyData {
			if ms > 0 {
				activeDates[date] = true
			}
		}
		report.Domains = append(report.Domains, stats)
		report.Summary.TotalTime += stats.TotalTime
	}

	sort.SliceStable(report.Domains, func(i, j int) bool {
		if report.Domains[i].TotalTime != report.Domains[j].TotalTime {
			return report.Domains[i].TotalTime > report.Domains[j].TotalTime
		}
		return report.Domains[i].Domain < report.Domains[j].Domain
	})

	report.Summary.ActiveDays = len(activeDates)
	if report.Summary.ActiveDays > 0 {
		report.Summary.AverageDaily = report.Summary.TotalTime / int64(report.Summary.ActiveDays)
	}
	if len(report.Domains) > 0 {
		report.Summary.TopDomain = report.Domains[0].Domain
	}

	return report
}

func domainStats(domain string, days map[string]int64, dates []string) DomainStats {
	stats := DomainStats{
		Domain:    domain,
		DailyData: make(map[string]int64, len(dates)),
	}

	series := make([]int64, len(dates))
	var active []float64
	for i, date := range dates {
		ms := days[date]
		if ms < 0 {
			ms = 0
		}
		series[i] = ms
		stats.DailyData[date] = ms
		stats.TotalTime += ms

		if isWeekend(date) {
			stats.WeekendTotal += ms
		} else {
			stats.WeekdayTotal += ms
		}
		if ms > 0 {
			active = append(active, float64(ms))
		}
	}

	stats.ActiveDays = len(active)
	if stats.ActiveDays > 0 {
		stats.AverageDaily = stats.TotalTime / int64(stats.ActiveDays)
	}
	stats.FocusScore = FocusScore(active)
	stats.Trend = Trend(series)
	return stats
}

func isWeekend(date string) bool {
	t, err := time.Parse(storage.DateLayout, date)
	if err != nil {
		return false
	}
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// FocusScore is 100*(1 - coefficient of variation), clamped at 0 and
// rounded. An empty series scores 0.
func FocusScore(values []float64) int {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}

	var sq float64
	for _, v := range values {
		sq += (v - mean) * (v - mean)
	}
	stddev := math.Sqrt(sq / float64(len(values)))

	return int(math.Round(100 * math.Max(0, 1-stddev/mean)))
}

// Trend compares the average of the second half of series against the first
// half; the first half holds the first len/2 days. With an idle first half the
// trend is 1 if the second half has any usage.
func Trend(series []int64) float64 {
	half := len(series) / 2
	if half == 0 {
		return 0
	}

	first := average(series[:half])
	second := average(series[half:])
	if first == 0 {
		if second > 0 {
			return 1
		}
		return 0
	}
	return (second - first) / first
}

func average(values []int64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum int64
	for _, v := range values {
		sum += v
	}
	return float64(sum) / float64(len(values))
}
