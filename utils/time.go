// Package utils provides utility functions for the application.
package utils

import (
	"time"
)

// UTCNow returns the current time in UTC
func UTCNow() time.Time {
	return time.Now().UTC()
}

// UTCNowPtr returns a pointer to the current time in UTC
func UTCNowPtr() *time.Time {
	now := UTCNow()
	return &now
}

// DailyBucket formats t as YYYYMMDD
func DailyBucket(t time.Time) string {
	return t.Format("20060102")
}

// MonthlyBucket formats t as YYYYMM
func MonthlyBucket(t time.Time) string {
	return t.Format("200601")
}

// YearlyBucket formats t as YYYY
func YearlyBucket(t time.Time) string {
	return t.Format("2006")
}
