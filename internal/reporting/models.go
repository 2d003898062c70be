package reporting

import (
	"time"

	"donor-dialer/internal/outcome"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CampaignSummaryRequest requests aggregated conversation metrics for one
// campaign. Business isolation: BusinessID is required. A zero Range means
// all time.
type CampaignSummaryRequest struct {
	BusinessID string    `json:"business_id"`
	CampaignID string    `json:"campaign_id"`
	Range      TimeRange `json:"range"`
}

// MoneyTotal is a per-currency sum in minor units.
type MoneyTotal struct {
	Currency    string `json:"currency"`
	AmountMinor int64  `json:"amount_minor"`
	Count       int    `json:"count"`
}

type CampaignSummary struct {
	BusinessID string `json:"business_id"`
	CampaignID string `json:"campaign_id"`

	Conversations int `json:"conversations"`
	Initiated     int `json:"initiated"`
	InProgress    int `json:"in_progress"`
	Completed     int `json:"completed"`
	Failed        int `json:"failed"`

	// Outcomes counts conversations per outcome; never-inferred ones are
	// counted as unknown.
	Outcomes map[outcome.Kind]int `json:"outcomes"`

	Pledged []MoneyTotal `json:"pledged"`
	Donated []MoneyTotal `json:"donated"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// ConnectionRate is completed / conversations; ConversionRate is
	// (pledged + donated) / conversations.
	ConnectionRate float64 `json:"connection_rate"`
	ConversionRate float64 `json:"conversion_rate"`
}
