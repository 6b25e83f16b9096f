package site

import (
	"errors"
	"testing"
)

func TestRuleInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		input   RuleInput
		wantErr bool
	}{
		{"plain", RuleInput{Domain: "example.com"}, false},
		{"limit", RuleInput{Domain: "example.com", DailyLimitMinutes: 30}, false},
		{"negative limit", RuleInput{Domain: "example.com", DailyLimitMinutes: -1}, true},
		{"limit over a day", RuleInput{Domain: "example.com", DailyLimitMinutes: 1441}, true},
		{"instant without password", RuleInput{Domain: "example.com", InstantProtect: true}, true},
		{"instant with password", RuleInput{Domain: "example.com", InstantProtect: true, Password: "pw"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestRuleTimeLimited(t *testing.T) {
	if (Rule{DailyLimitMinutes: 30}).DailyLimit().Minutes() != 30 {
		t.Errorf("expected 30 minute limit")
	}
	if (Rule{DailyLimitMinutes: 30, InstantProtect: true}).TimeLimited() {
		t.Errorf("instant protect rules must not be time limited")
	}
	if (Rule{}).TimeLimited() {
		t.Errorf("zero limit must not be time limited")
	}
}

func TestStorageErrorWraps(t *testing.T) {
	cause := errors.New("disk full")
	err := StorageError("add rule", cause)
	if !errors.Is(err, ErrStorage) || !errors.Is(err, cause) {
		t.Fatalf("expected both sentinel and cause in chain, got %v", err)
	}
	if StorageError("noop", nil) != nil {
		t.Fatalf("nil cause should stay nil")
	}
}

func TestParseExport(t *testing.T) {
	data := []byte(`{
		"protectedSites": [
			{"id": "a", "domain": "youtube.com", "dailyLimitMinutes": 30, "instantProtect": false, "createdAt": 1700000000000},
			{"id": "b", "domain": "reddit.com", "passwordHash": "abc", "instantProtect": true, "lastAccessTimestamp": 1700000000000}
		],
		"timeTrackingData": {"youtube.com": {"2024-01-02": 60000}}
	}`)

	export, err := ParseExport(data)
	if err != nil {
		t.Fatalf("parse export: %v", err)
	}
	if len(export.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(export.Rules))
	}
	if export.Rules[0].DailyLimitMinutes != 30 {
		t.Errorf("expected limit 30, got %d", export.Rules[0].DailyLimitMinutes)
	}
	if export.Rules[1].LastAccess == nil || export.Rules[1].PasswordHash != "abc" {
		t.Errorf("second rule lost password or last access: %+v", export.Rules[1])
	}
	if export.Ledger["youtube.com"]["2024-01-02"] != 60000 {
		t.Errorf("ledger value mismatch: %v", export.Ledger)
	}
}

func TestParseExportRejectsBadDate(t *testing.T) {
	_, err := ParseExport([]byte(`{"timeTrackingData": {"a.com": {"Tue Jan 02 2024": 10}}}`))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
