package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beaconmesh/beacon/internal/core"
	"github.com/beaconmesh/beacon/internal/scanner"
	"github.com/beaconmesh/beacon/internal/tracker"
)

// MessageStore persists channel history, the DM inbox and pending review
// commits. It backs both the anti-loop history reader and the inbox and
// review opportunity sources.
type MessageStore struct {
	db *sql.DB
}

// NewMessageStore creates a message store
func NewMessageStore(db *DB) *MessageStore {
	return &MessageStore{db: db.Conn()}
}

// RecordChannelMessage appends a message to channel history. proactiveOrigin
// marks messages an agent sent in response to a signal; the anti-loop check
// reads it back.
func (s *MessageStore) RecordChannelMessage(ctx context.Context, channelID core.ChannelID, sender string, proactiveOrigin bool, preview string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_messages (id, channel_id, sender_address, proactive_origin, preview, sent_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, uuid.New().String(), string(channelID), strings.ToLower(sender), proactiveOrigin, preview, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record channel message: %w", err)
	}
	return nil
}

// RecentMessages returns the newest messages in a channel, newest first.
// Implements the history reader consumed by the anti-loop check.
func (s *MessageStore) RecentMessages(ctx context.Context, channelID core.ChannelID, limit int) ([]tracker.ChannelMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT sender_address, proactive_origin, sent_at
		FROM channel_messages WHERE channel_id = ?
		ORDER BY sent_at DESC, id DESC LIMIT ?
	`, string(channelID), limit)
	if err != nil {
		return nil, fmt.Errorf("query channel messages: %w", err)
	}
	defer rows.Close()

	var messages []tracker.ChannelMessage
	for rows.Next() {
		var m tracker.ChannelMessage
		if err := rows.Scan(&m.SenderAddress, &m.ProactiveOrigin, &m.SentAt); err != nil {
			return nil, fmt.Errorf("scan channel message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// RecordInboxMessage stores an inbound DM awaiting a reply.
func (s *MessageStore) RecordInboxMessage(ctx context.Context, id, recipient, sender, preview string) error {
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_messages (id, recipient_address, sender_address, preview, answered, received_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, strings.ToLower(recipient), strings.ToLower(sender), preview, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record inbox message: %w", err)
	}
	return nil
}

// MarkAnswered flags a DM as replied to; it stops surfacing in scans.
func (s *MessageStore) MarkAnswered(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE inbox_messages SET answered = 1 WHERE id = ?
	`, id)
	if err != nil {
		return fmt.Errorf("mark answered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("message %s: %w", id, core.ErrRecordNotFound)
	}
	return nil
}

// UnansweredDMs returns the oldest unanswered DMs for an address.
// Implements the inbox opportunity source's store.
func (s *MessageStore) UnansweredDMs(ctx context.Context, address string, limit int) ([]scanner.DirectMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_address, preview, received_at
		FROM inbox_messages WHERE recipient_address = ? AND answered = 0
		ORDER BY received_at ASC LIMIT ?
	`, strings.ToLower(address), limit)
	if err != nil {
		return nil, fmt.Errorf("query inbox: %w", err)
	}
	defer rows.Close()

	var dms []scanner.DirectMessage
	for rows.Next() {
		var (
			dm      scanner.DirectMessage
			preview sql.NullString
		)
		if err := rows.Scan(&dm.ID, &dm.SenderAddress, &preview, &dm.ReceivedAt); err != nil {
			return nil, fmt.Errorf("scan inbox message: %w", err)
		}
		dm.Preview = preview.String
		dms = append(dms, dm)
	}
	return dms, rows.Err()
}

// RecordCommit stores a commit awaiting review from the given collaborator.
func (s *MessageStore) RecordCommit(ctx context.Context, commitID, projectID, collaborator, author, message string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_commits (commit_id, project_id, collaborator_address, author_address, message, reviewed, pushed_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT(commit_id) DO NOTHING
	`, commitID, projectID, strings.ToLower(collaborator), strings.ToLower(author), message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("record commit: %w", err)
	}
	return nil
}

// MarkReviewed flags a commit as reviewed.
func (s *MessageStore) MarkReviewed(ctx context.Context, commitID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_commits SET reviewed = 1 WHERE commit_id = ?
	`, commitID)
	if err != nil {
		return fmt.Errorf("mark reviewed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("commit %s: %w", commitID, core.ErrRecordNotFound)
	}
	return nil
}

// PendingReviews returns the oldest unreviewed commits for a collaborator.
// Implements the review opportunity source's store.
func (s *MessageStore) PendingReviews(ctx context.Context, address string, limit int) ([]scanner.PendingCommit, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT commit_id, project_id, author_address, message, pushed_at
		FROM pending_commits WHERE collaborator_address = ? AND reviewed = 0
		ORDER BY pushed_at ASC LIMIT ?
	`, strings.ToLower(address), limit)
	if err != nil {
		return nil, fmt.Errorf("query pending commits: %w", err)
	}
	defer rows.Close()

	var commits []scanner.PendingCommit
	for rows.Next() {
		var (
			c       scanner.PendingCommit
			message sql.NullString
		)
		if err := rows.Scan(&c.CommitID, &c.ProjectID, &c.Author, &message, &c.PushedAt); err != nil {
			return nil, fmt.Errorf("scan pending commit: %w", err)
		}
		c.Message = message.String
		commits = append(commits, c)
	}
	return commits, rows.Err()
}
