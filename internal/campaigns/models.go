package campaigns

import "time"

// Campaign is read-only to the dialer; the CRUD surface owns it.
type Campaign struct {
	ID         string         `json:"id" db:"id"`
	BusinessID string         `json:"business_id" db:"business_id"`
	Status     CampaignStatus `json:"status" db:"status"`

	// Call window is [start, end) in the campaign's local time.
	CallWindowStart TimeOfDay `json:"call_window_start" db:"call_window_start"`
	CallWindowEnd   TimeOfDay `json:"call_window_end" db:"call_window_end"`

	DailyCallCap  int  `json:"daily_call_cap" db:"daily_call_cap"`
	MaxAttempts   int  `json:"max_attempts" db:"max_attempts"`
	ExcludeDNC    bool `json:"exclude_dnc" db:"exclude_dnc"`
	DedupeByPhone bool `json:"dedupe_by_phone" db:"dedupe_by_phone"`

	AgentID            string `json:"agent_id" db:"agent_id"`
	AgentPhoneNumberID string `json:"agent_phone_number_id" db:"agent_phone_number_id"`

	// Timezone comes from the owning business. Empty means "use the default".
	Timezone string `json:"timezone" db:"timezone"`
}

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Lead is a donor contact. The dialer only writes last_activity_at and
// the unreachable flag.
type Lead struct {
	ID             string     `json:"id" db:"id"`
	BusinessID     string     `json:"business_id" db:"business_id"`
	Phone          string     `json:"phone" db:"phone"`
	FirstName      string     `json:"first_name,omitempty" db:"first_name"`
	DNC            bool       `json:"dnc" db:"dnc"`
	Unreachable    bool       `json:"unreachable" db:"unreachable"`
	LastActivityAt *time.Time `json:"last_activity_at,omitempty" db:"last_activity_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// CampaignLead is the per-(campaign, lead) attempt record.
// attempts only changes through a compare-and-swap on its current value.
type CampaignLead struct {
	CampaignID    string     `json:"campaign_id" db:"campaign_id"`
	LeadID        string     `json:"lead_id" db:"lead_id"`
	Attempts      int        `json:"attempts" db:"attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" db:"last_attempt_at"`
}

// Candidate is a lead joined with its attempt record for one campaign.
// HasRecord is false when no campaign_leads row exists yet.
type Candidate struct {
	Lead          Lead
	Attempts      int
	LastAttemptAt *time.Time
	HasRecord     bool
}

// AttemptRecord returns the candidate's attempt state as a CampaignLead.
func (c Candidate) AttemptRecord(campaignID string) CampaignLead {
	return CampaignLead{
		CampaignID:    campaignID,
		LeadID:        c.Lead.ID,
		Attempts:      c.Attempts,
		LastAttemptAt: c.LastAttemptAt,
	}
}
