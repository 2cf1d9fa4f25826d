package signal

import (
	"testing"
	"time"

	"github.com/beaconmesh/beacon/internal/core"
)

func TestDedupKey_CrossPathCollision(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	agentID := core.AgentID("agent-1")

	tests := []struct {
		name string
		sig  core.ReactiveSignal
		opp  core.Opportunity
	}{
		{
			name: "dm from same sender",
			sig: core.ReactiveSignal{
				Type:          KindDMReceived,
				SenderAddress: "0xABCDEF",
			},
			opp: core.Opportunity{
				Type:     KindDMReceived,
				SourceID: "dm-msg-42",
				Metadata: map[string]string{core.MetaSenderAddress: "0xabcdef"},
			},
		},
		{
			name: "channel message",
			sig: core.ReactiveSignal{
				Type:          KindChannelMessage,
				ChannelID:     "chan-7",
				SenderAddress: "0xFEED",
			},
			opp: core.Opportunity{
				Type:     KindChannelMessage,
				SourceID: "chmsg-99",
				Metadata: map[string]string{
					core.MetaChannelID:     "chan-7",
					core.MetaSenderAddress: "0xfeed",
				},
			},
		},
		{
			name: "commit",
			sig: core.ReactiveSignal{
				Type:     KindFilesCommitted,
				CommitID: "c-123",
			},
			opp: core.Opportunity{
				Type:     KindFilesCommitted,
				SourceID: "commit-c-123",
				Metadata: map[string]string{core.MetaCommitID: "c-123"},
			},
		},
		{
			name: "bounty",
			sig: core.ReactiveSignal{
				Type:     KindBounty,
				SourceID: "bounty-55",
			},
			opp: core.Opportunity{
				Type:     KindBounty,
				SourceID: "bounty-55",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rKey, ok := DedupKey(tt.sig.Type, ReactiveFields(agentID, tt.sig, now))
			if !ok {
				t.Fatalf("reactive key not derivable for %s", tt.sig.Type)
			}
			oKey, ok := DedupKey(tt.opp.Type, OpportunityFields(agentID, tt.opp, now))
			if !ok {
				t.Fatalf("opportunity key not derivable for %s", tt.opp.Type)
			}
			if rKey != oKey {
				t.Errorf("keys diverge: reactive=%q scan=%q", rKey, oKey)
			}
		})
	}
}

func TestDedupKey_DateBucketed(t *testing.T) {
	day1 := time.Date(2026, 3, 14, 23, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 15, 1, 0, 0, 0, time.UTC)

	k1, _ := DedupKey(KindTimeToPost, Fields{Now: day1})
	k2, _ := DedupKey(KindTimeToPost, Fields{Now: day2})

	if k1 == k2 {
		t.Error("time_to_post key should change across UTC days")
	}

	same, _ := DedupKey(KindTimeToPost, Fields{Now: day1.Add(-2 * time.Hour)})
	if k1 != same {
		t.Error("time_to_post key should be stable within one UTC day")
	}
}

func TestDedupKey_UnregisteredKind(t *testing.T) {
	if _, ok := DedupKey("made_up_kind", Fields{}); ok {
		t.Error("unregistered kind should not derive a key")
	}
	if Registered("made_up_kind") {
		t.Error("made_up_kind should not be registered")
	}
}

func TestRegister_Override(t *testing.T) {
	Register("custom_kind", func(f Fields) string { return "custom:" + f.SourceID })
	defer func() {
		mu.Lock()
		delete(kinds, "custom_kind")
		mu.Unlock()
	}()

	key, ok := DedupKey("custom_kind", Fields{SourceID: "x"})
	if !ok || key != "custom:x" {
		t.Errorf("DedupKey = %q, %v; want custom:x, true", key, ok)
	}
}

func TestChannelScoped(t *testing.T) {
	if !ChannelScoped(KindChannelMessage) {
		t.Error("channel_message should be channel scoped")
	}
	if ChannelScoped(KindDMReceived) {
		t.Error("dm_received should not be channel scoped")
	}
}

func TestDedupKey_SenderCaseInsensitive(t *testing.T) {
	upper := ReactiveFields("a", core.ReactiveSignal{Type: KindDMReceived, SenderAddress: "0xAB"}, time.Now())
	lower := ReactiveFields("a", core.ReactiveSignal{Type: KindDMReceived, SenderAddress: "0xab"}, time.Now())

	k1, _ := DedupKey(KindDMReceived, upper)
	k2, _ := DedupKey(KindDMReceived, lower)
	if k1 != k2 {
		t.Errorf("sender address should be case folded: %q vs %q", k1, k2)
	}
}
