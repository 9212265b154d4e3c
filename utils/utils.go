// Package utils provides utility functions for the application.
package utils

// TomanCurrency is the ISO-ish code used for billing amounts.
const TomanCurrency = "TMN"

// CORSMaxAge is how long browsers may cache preflight responses, in seconds.
const CORSMaxAge = 86400
