package scraper

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReportExitCode(t *testing.T) {
	completed := AccountResult{AdvertiserID: "a", Status: AccountCompleted}
	failed := AccountResult{AdvertiserID: "b", Status: AccountFailed, Err: errors.New("boom")}
	interrupted := AccountResult{AdvertiserID: "c", Status: AccountInterrupted}

	tests := []struct {
		name   string
		report Report
		want   int
	}{
		{"all completed", Report{Accounts: []AccountResult{completed}, Records: 3}, ExitSuccess},
		{"all completed without ads", Report{Accounts: []AccountResult{completed}}, ExitSuccess},
		{"one failed with records", Report{Accounts: []AccountResult{completed, failed}, Records: 3}, ExitPartial},
		{"interrupted with records", Report{Accounts: []AccountResult{completed, interrupted}, Records: 1}, ExitPartial},
		{"failed without records", Report{Accounts: []AccountResult{failed}}, ExitFailure},
		{"export failed", Report{Accounts: []AccountResult{completed}, Records: 3, ExportErr: errors.New("disk full")}, ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.report.ExitCode())
		})
	}
}

func TestReportErrors(t *testing.T) {
	exportErr := errors.New("disk full")
	r := Report{
		Accounts: []AccountResult{
			{AdvertiserID: "a", Status: AccountCompleted},
			{AdvertiserID: "b", Status: AccountFailed, Err: errors.New("401")},
			{AdvertiserID: "c", Status: AccountInterrupted},
		},
		ExportErr: exportErr,
	}

	assert.Len(t, r.Errors(), 2)
	assert.Len(t, r.Incomplete(), 2)

	b, ok := r.Account("b")
	assert.True(t, ok)
	assert.Equal(t, AccountFailed, b.Status)

	_, ok = r.Account("zzz")
	assert.False(t, ok)
}
