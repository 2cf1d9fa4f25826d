package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/logging"
	"github.com/beaconmesh/beacon/internal/signal"
)

// -----------------------------------------------------------------------------
// Collaborator interfaces
// -----------------------------------------------------------------------------

// DirectMessage is an inbound DM awaiting a reply.
type DirectMessage struct {
	ID            string
	SenderAddress string
	Preview       string
	ReceivedAt    time.Time
}

// PendingCommit is a commit in a collaborated project with no review yet.
type PendingCommit struct {
	ProjectID string
	CommitID  string
	Author    string
	Message   string
	PushedAt  time.Time
}

// InboxStore reads unanswered direct messages for an agent address.
type InboxStore interface {
	UnansweredDMs(ctx context.Context, address string, limit int) ([]DirectMessage, error)
}

// ReviewStore reads commits awaiting review in the agent's projects.
type ReviewStore interface {
	PendingReviews(ctx context.Context, address string, limit int) ([]PendingCommit, error)
}

// Bounty is an open bounty listing from the network graph.
type Bounty struct {
	ID          string
	Title       string
	Description string
	Reward      int64
}

// Project is a discoverable project from the network graph.
type Project struct {
	ID             string
	Name           string
	Description    string
	CreatorAddress string
}

// GraphClient queries the network graph. It is an optional collaborator:
// sources built over it are skipped entirely when no client is configured.
type GraphClient interface {
	OpenBounties(ctx context.Context, limit int) ([]Bounty, error)
	RecentProjects(ctx context.Context, limit int) ([]Project, error)
}

// -----------------------------------------------------------------------------
// Inbox source
// -----------------------------------------------------------------------------

type dmSource struct {
	store InboxStore
}

// NewDMSource surfaces unanswered direct messages as dm_received
// opportunities.
func NewDMSource(store InboxStore) Source {
	return &dmSource{store: store}
}

func (s *dmSource) Name() string { return "inbox" }

func (s *dmSource) Scan(ctx context.Context, actx core.AgentContext) []core.Opportunity {
	dms, err := s.store.UnansweredDMs(ctx, actx.Address, 10)
	if err != nil {
		logging.Warn("inbox source failed for %s: %v", actx.AgentID, err)
		return nil
	}

	var opps []core.Opportunity
	for _, dm := range dms {
		// Fresher messages rank higher; an hour-old DM still beats most
		// discovery signals.
		value := 90.0 - time.Since(dm.ReceivedAt).Hours()
		if value < 50 {
			value = 50
		}
		opps = append(opps, core.Opportunity{
			Type:           signal.KindDMReceived,
			SourceID:       "dm-" + dm.ID,
			Title:          "Direct message awaiting reply",
			Description:    dm.Preview,
			EstimatedValue: value,
			Metadata: map[string]string{
				core.MetaSenderAddress: dm.SenderAddress,
				core.MetaPreview:       dm.Preview,
			},
		})
	}
	return opps
}

// -----------------------------------------------------------------------------
// Pending review source
// -----------------------------------------------------------------------------

type reviewSource struct {
	store ReviewStore
}

// NewPendingReviewSource surfaces unreviewed commits in the agent's projects.
func NewPendingReviewSource(store ReviewStore) Source {
	return &reviewSource{store: store}
}

func (s *reviewSource) Name() string { return "pending-reviews" }

func (s *reviewSource) Scan(ctx context.Context, actx core.AgentContext) []core.Opportunity {
	commits, err := s.store.PendingReviews(ctx, actx.Address, 10)
	if err != nil {
		logging.Warn("pending-review source failed for %s: %v", actx.AgentID, err)
		return nil
	}

	var opps []core.Opportunity
	for _, c := range commits {
		opps = append(opps, core.Opportunity{
			Type:           signal.KindPendingReview,
			SourceID:       "review-" + c.CommitID,
			Title:          fmt.Sprintf("Commit in %s needs review", c.ProjectID),
			Description:    c.Message,
			EstimatedValue: 70,
			Metadata: map[string]string{
				core.MetaProjectID:     c.ProjectID,
				core.MetaCommitID:      c.CommitID,
				core.MetaSenderAddress: c.Author,
				core.MetaPreview:       c.Message,
			},
		})
	}
	return opps
}

// -----------------------------------------------------------------------------
// Graph-backed sources
// -----------------------------------------------------------------------------

type bountySource struct {
	graph GraphClient
}

// NewBountySource surfaces open bounties matching the agent's domains.
// Returns nil when no graph client is configured, which drops the source
// from the scan entirely.
func NewBountySource(graph GraphClient) Source {
	if graph == nil {
		return nil
	}
	return &bountySource{graph: graph}
}

func (s *bountySource) Name() string { return "bounties" }

func (s *bountySource) Scan(ctx context.Context, actx core.AgentContext) []core.Opportunity {
	bounties, err := s.graph.OpenBounties(ctx, 25)
	if err != nil {
		logging.Warn("bounty source failed for %s: %v", actx.AgentID, err)
		return nil
	}

	var opps []core.Opportunity
	for _, b := range bounties {
		if !MatchesDomains(actx.Purpose.Domains, b.Title+" "+b.Description) {
			continue
		}
		value := 40 + float64(b.Reward)/10
		if value > 100 {
			value = 100
		}
		opps = append(opps, core.Opportunity{
			Type:           signal.KindBounty,
			SourceID:       "bounty-" + b.ID,
			Title:          b.Title,
			Description:    b.Description,
			EstimatedValue: value,
			Metadata: map[string]string{
				core.MetaPreview: b.Description,
			},
		})
	}
	return opps
}

type projectSource struct {
	graph GraphClient
}

// NewProjectSource surfaces recently created projects relevant to the
// agent's domains. Nil when no graph client is configured.
func NewProjectSource(graph GraphClient) Source {
	if graph == nil {
		return nil
	}
	return &projectSource{graph: graph}
}

func (s *projectSource) Name() string { return "projects" }

func (s *projectSource) Scan(ctx context.Context, actx core.AgentContext) []core.Opportunity {
	projects, err := s.graph.RecentProjects(ctx, 25)
	if err != nil {
		logging.Warn("project source failed for %s: %v", actx.AgentID, err)
		return nil
	}

	var opps []core.Opportunity
	for _, p := range projects {
		if p.CreatorAddress == actx.Address {
			continue // own projects are not discoveries
		}
		if !MatchesDomains(actx.Purpose.Domains, p.Name+" "+p.Description) {
			continue
		}
		opps = append(opps, core.Opportunity{
			Type:           signal.KindInterestingProject,
			SourceID:       "project-" + p.ID,
			Title:          "Project match: " + p.Name,
			Description:    p.Description,
			EstimatedValue: 45,
			Metadata: map[string]string{
				core.MetaProjectID:     p.ID,
				core.MetaSenderAddress: p.CreatorAddress,
				core.MetaPreview:       p.Description,
			},
		})
	}
	return opps
}

// -----------------------------------------------------------------------------
// Posting nudge source
// -----------------------------------------------------------------------------

type postNudgeSource struct {
	now func() time.Time
}

// NewPostNudgeSource emits one time_to_post nudge per UTC day. The sourceID
// is date-bucketed on purpose so the nudge re-surfaces each day after the
// previous one was acted on.
func NewPostNudgeSource() Source {
	return &postNudgeSource{now: time.Now}
}

func (s *postNudgeSource) Name() string { return "post-nudge" }

func (s *postNudgeSource) Scan(ctx context.Context, actx core.AgentContext) []core.Opportunity {
	day := s.now().UTC().Format("2006-01-02")
	return []core.Opportunity{{
		Type:           signal.KindTimeToPost,
		SourceID:       "post-nudge-" + day,
		Title:          "Time to share something",
		Description:    "No post published today. Consider sharing an insight with your communities.",
		EstimatedValue: 20,
	}}
}

// Compose assembles the standard source set, skipping sources whose
// collaborators are unconfigured.
func Compose(inbox InboxStore, reviews ReviewStore, graph GraphClient) *Scanner {
	s := New()
	if inbox != nil {
		s.Register(NewDMSource(inbox))
	}
	if reviews != nil {
		s.Register(NewPendingReviewSource(reviews))
	}
	if src := NewBountySource(graph); src != nil {
		s.Register(src)
	}
	if src := NewProjectSource(graph); src != nil {
		s.Register(src)
	}
	s.Register(NewPostNudgeSource())
	return s
}
