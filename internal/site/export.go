package site

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

var dateKeyPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Export is the browser storage dump: protected sites plus the usage ledger.
type Export struct {
	Rules  []Rule
	Ledger map[string]map[string]int64
}

type exportedRule struct {
	ID                  string  `json:"id"`
	Domain              string  `json:"domain"`
	PasswordHash        *string `json:"passwordHash"`
	DailyLimitMinutes   *int    `json:"dailyLimitMinutes"`
	InstantProtect      bool    `json:"instantProtect"`
	LastAccessTimestamp *int64  `json:"lastAccessTimestamp"`
	CreatedAt           *int64  `json:"createdAt"`
}

type exportDocument struct {
	ProtectedSites   []exportedRule                `json:"protectedSites"`
	TimeTrackingData map[string]map[string]float64 `json:"timeTrackingData"`
}

// ParseExport decodes a browser storage dump into typed rules and ledger values.
// Domains are returned as stored; callers normalize them before persisting.
func ParseExport(data []byte) (*Export, error) {
	var doc exportDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Field: "export", Reason: err.Error()}
	}

	out := &Export{Ledger: make(map[string]map[string]int64)}
	for i, raw := range doc.ProtectedSites {
		if raw.Domain == "" {
			return nil, &ValidationError{Field: fmt.Sprintf("protectedSites[%d].domain", i), Reason: "empty"}
		}
		rule := Rule{
			ID:             raw.ID,
			Domain:         raw.Domain,
			InstantProtect: raw.InstantProtect,
		}
		if raw.PasswordHash != nil {
			rule.PasswordHash = *raw.PasswordHash
		}
		if raw.DailyLimitMinutes != nil {
			if *raw.DailyLimitMinutes < 0 || *raw.DailyLimitMinutes > MaxDailyLimitMinutes {
				return nil, &ValidationError{Field: fmt.Sprintf("protectedSites[%d].dailyLimitMinutes", i), Reason: "out of range"}
			}
			rule.DailyLimitMinutes = *raw.DailyLimitMinutes
		}
		if raw.LastAccessTimestamp != nil {
			ts := time.UnixMilli(*raw.LastAccessTimestamp)
			rule.LastAccess = &ts
		}
		if raw.CreatedAt != nil {
			rule.CreatedAt = time.UnixMilli(*raw.CreatedAt)
		}
		out.Rules = append(out.Rules, rule)
	}

	for domain, days := range doc.TimeTrackingData {
		for date, ms := range days {
			if !dateKeyPattern.MatchString(date) {
				return nil, &ValidationError{Field: "timeTrackingData." + domain, Reason: "bad date key " + date}
			}
			if ms < 0 {
				return nil, &ValidationError{Field: "timeTrackingData." + domain + "." + date, Reason: "negative duration"}
			}
			if out.Ledger[domain] == nil {
				out.Ledger[domain] = make(map[string]int64)
			}
			out.Ledger[domain][date] = int64(ms)
		}
	}

	return out, nil
}
