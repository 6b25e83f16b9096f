package storage

import (
	"sort"
	"time"
)

// SchemaVersion is the current on-disk layout. Version 1 stored usage in
// whole seconds; version 2 stores milliseconds.
const SchemaVersion = 2

// DateLayout is the calendar-date key format of the usage ledger.
const DateLayout = "2006-01-02"

// DateKey returns the ledger key for t in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateLayout)
}

// Ledger maps domain -> date -> elapsed milliseconds.
type Ledger map[string]map[string]int64

// Set stores a value, creating the domain map as needed.
func (l Ledger) Set(domain, date string, millis int64) {
	if l[domain] == nil {
		l[domain] = make(map[string]int64)
	}
	l[domain][date] = millis
}

// Domains returns the ledger's domains in sorted order.
func (l Ledger) Domains() []string {
	domains := make([]string, 0, len(l))
	for d := range l {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	return domains
}

// Entry is a single non-zero ledger cell.
type Entry struct {
	Domain string
	Date   string
	Millis int64
}

// Entries flattens the ledger into non-zero cells ordered by domain then date.
func (l Ledger) Entries() []Entry {
	var entries []Entry
	for _, domain := range l.Domains() {
		dates := make([]string, 0, len(l[domain]))
		for date := range l[domain] {
			dates = append(dates, date)
		}
		sort.Strings(dates)
		for _, date := range dates {
			if ms := l[domain][date]; ms > 0 {
				entries = append(entries, Entry{Domain: domain, Date: date, Millis: ms})
			}
		}
	}
	return entries
}

// User is the remote account bound to the cached token.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// AuthState is the cached extension session.
type AuthState struct {
	Token     string     `json:"token"`
	User      *User      `json:"user,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	LastCheck time.Time  `json:"last_check"`
}
