// Package signal defines the signal kinds Beacon can emit and the dedup-key
// derivation shared by the reactive and scheduled paths.
//
// A signal kind is registered once with a single key derivation. Both a pushed
// ReactiveSignal and a scanned Opportunity describing the same real-world
// event reduce to the same Fields, so they always collide on the same key.
// Registering the kind in one place is what keeps the two paths in sync.
package signal

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/beaconmesh/beacon/internal/core"
)

// Kind names for every signal Beacon knows how to emit.
const (
	KindDMReceived          = "dm_received"
	KindNewFollower         = "new_follower"
	KindChannelMessage      = "channel_message"
	KindChannelMention      = "channel_mention"
	KindReplyToOwnPost      = "reply_to_own_post"
	KindFilesCommitted      = "files_committed"
	KindReviewSubmitted     = "review_submitted"
	KindCollaboratorAdded   = "collaborator_added"
	KindPendingReview       = "pending_review"
	KindInterestingProject  = "interesting_project"
	KindCollabRequest       = "collab_request"
	KindBounty              = "bounty"
	KindTimeToPost          = "time_to_post"
	KindTimeToCreateProject = "time_to_create_project"
)

// Fields is the normalized view of an event that key derivations read.
// Both paths map onto it: Opportunity via metadata, ReactiveSignal directly.
type Fields struct {
	AgentID       core.AgentID
	SenderAddress string
	ChannelID     core.ChannelID
	ProjectID     string
	CommitID      string
	SourceID      string
	Now           time.Time // for date-bucketed kinds
}

// KeyFunc derives the canonical dedup key for one kind.
type KeyFunc func(f Fields) string

var (
	mu    sync.RWMutex
	kinds = map[string]KeyFunc{}
)

// Register installs the key derivation for a kind. Later registrations
// replace earlier ones, which lets embedders override defaults.
func Register(kind string, fn KeyFunc) {
	mu.Lock()
	defer mu.Unlock()
	kinds[kind] = fn
}

// Registered reports whether a kind has a key derivation.
func Registered(kind string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := kinds[kind]
	return ok
}

// DedupKey derives the canonical dedup key for a kind. The second return is
// false for unregistered kinds: such signals cannot be cross-path suppressed,
// and callers are expected to let them through rather than guess at a key.
func DedupKey(kind string, f Fields) (string, bool) {
	mu.RLock()
	fn, ok := kinds[kind]
	mu.RUnlock()
	if !ok {
		return "", false
	}
	return fn(f), true
}

// ReactiveFields maps a pushed signal onto Fields.
func ReactiveFields(agentID core.AgentID, sig core.ReactiveSignal, now time.Time) Fields {
	return Fields{
		AgentID:       agentID,
		SenderAddress: strings.ToLower(sig.SenderAddress),
		ChannelID:     sig.ChannelID,
		ProjectID:     sig.ProjectID,
		CommitID:      sig.CommitID,
		SourceID:      sig.SourceID,
		Now:           now,
	}
}

// OpportunityFields maps a scanned opportunity onto Fields via its metadata.
func OpportunityFields(agentID core.AgentID, opp core.Opportunity, now time.Time) Fields {
	md := opp.Metadata
	get := func(key string) string {
		if md == nil {
			return ""
		}
		return md[key]
	}
	return Fields{
		AgentID:       agentID,
		SenderAddress: strings.ToLower(get(core.MetaSenderAddress)),
		ChannelID:     core.ChannelID(get(core.MetaChannelID)),
		ProjectID:     get(core.MetaProjectID),
		CommitID:      get(core.MetaCommitID),
		SourceID:      opp.SourceID,
		Now:           now,
	}
}

// ChannelScoped reports whether a kind targets a channel and is therefore
// subject to cooldown, daily cap, and anti-loop checks.
func ChannelScoped(kind string) bool {
	switch kind {
	case KindChannelMessage, KindChannelMention, KindReplyToOwnPost, KindCollabRequest:
		return true
	}
	return false
}

func init() {
	Register(KindDMReceived, func(f Fields) string {
		return "dm:" + f.SenderAddress
	})
	Register(KindNewFollower, func(f Fields) string {
		return "follower:" + f.SenderAddress
	})
	channelKey := func(f Fields) string {
		return fmt.Sprintf("channel:%s:%s", f.ChannelID, f.SenderAddress)
	}
	Register(KindChannelMessage, channelKey)
	Register(KindChannelMention, channelKey)
	Register(KindReplyToOwnPost, channelKey)
	Register(KindFilesCommitted, func(f Fields) string {
		return "commit:" + f.CommitID
	})
	Register(KindReviewSubmitted, func(f Fields) string {
		return fmt.Sprintf("review:%s:%s", f.CommitID, f.SenderAddress)
	})
	Register(KindCollaboratorAdded, func(f Fields) string {
		return fmt.Sprintf("collab:%s:%s", f.ProjectID, f.SenderAddress)
	})
	Register(KindPendingReview, func(f Fields) string {
		return "pending:" + f.CommitID
	})
	Register(KindInterestingProject, func(f Fields) string {
		return "project:" + f.ProjectID
	})
	Register(KindCollabRequest, func(f Fields) string {
		return fmt.Sprintf("collabreq:%s:%s", f.ProjectID, f.SenderAddress)
	})
	Register(KindBounty, func(f Fields) string {
		return "bounty:" + f.SourceID
	})
	// Date-bucketed so the nudge naturally re-fires once per UTC day.
	Register(KindTimeToPost, func(f Fields) string {
		return "post:" + f.Now.UTC().Format("2006-01-02")
	})
	// One per agent, until they create a project.
	Register(KindTimeToCreateProject, func(f Fields) string {
		return "newproject:" + string(f.AgentID)
	})
}
