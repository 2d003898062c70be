package migrate

import (
	"strings"
	"testing"
)

func TestMigrationsAreOrderedAndComplete(t *testing.T) {
	ms, err := Migrations()
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if len(ms) == 0 || ms[0].Version != "001_init" {
		t.Fatalf("expected 001_init first, got %+v", ms)
	}
	for i := 1; i < len(ms); i++ {
		if ms[i-1].Version >= ms[i].Version {
			t.Fatalf("migrations out of order: %s then %s", ms[i-1].Version, ms[i].Version)
		}
	}

	for _, table := range []string{
		"businesses", "campaigns", "leads", "campaign_leads",
		"campaign_daily_counters", "conversations", "conversation_events", "audit_events",
	} {
		if !strings.Contains(ms[0].SQL, "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("001_init is missing table %s", table)
		}
	}
	if !strings.Contains(ms[0].SQL, "PRIMARY KEY (conversation_id, sequence_number)") {
		t.Fatalf("event log must be keyed by (conversation_id, sequence_number)")
	}
}
