package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/axonops/showledger/internal/events"
	"github.com/axonops/showledger/internal/storage"
)

func validateVote(authorID, voterID int64, vote int) error {
	if vote != 1 && vote != -1 {
		return fmt.Errorf("%w: %d is not +1 or -1", ErrInvalidVote, vote)
	}
	if authorID == voterID {
		return ErrSelfVote
	}
	return nil
}

// CastVote records voterID's vote on authorID's review of a show, replacing
// any earlier vote by the same voter.
func (s *Service) CastVote(ctx context.Context, showID, authorID, voterID int64, vote int) (err error) {
	defer s.observe("cast_vote", time.Now(), &err)

	if err := validateVote(authorID, voterID, vote); err != nil {
		return err
	}
	v := &storage.VoteRecord{ShowID: showID, AuthorID: authorID, VoterID: voterID, Value: vote}
	if err := s.store.PutVote(ctx, v); err != nil {
		return translate(err)
	}
	s.metrics.RecordVote(vote)
	s.logger.Debug("vote cast",
		slog.Int64("show_id", showID),
		slog.Int64("author_id", authorID),
		slog.Int64("voter_id", voterID),
		slog.Int("vote", vote),
	)

	ev := events.New(events.VoteCast)
	ev.ShowID, ev.AuthorID, ev.UserID, ev.Value = showID, authorID, voterID, vote
	s.publish(ctx, ev)
	return nil
}

// RetractVote removes a vote. Retracting an absent vote succeeds.
func (s *Service) RetractVote(ctx context.Context, showID, authorID, voterID int64) (err error) {
	defer s.observe("retract_vote", time.Now(), &err)

	if err := s.store.DeleteVote(ctx, showID, authorID, voterID); err != nil {
		return err
	}

	ev := events.New(events.VoteRetracted)
	ev.ShowID, ev.AuthorID, ev.UserID = showID, authorID, voterID
	s.publish(ctx, ev)
	return nil
}

// ToggleVote casts vote, or retracts it if the voter already cast the same
// vote. It returns the voter's resulting vote, 0 meaning none.
func (s *Service) ToggleVote(ctx context.Context, showID, authorID, voterID int64, vote int) (result int, err error) {
	defer s.observe("toggle_vote", time.Now(), &err)

	if err := validateVote(authorID, voterID, vote); err != nil {
		return 0, err
	}
	v := &storage.VoteRecord{ShowID: showID, AuthorID: authorID, VoterID: voterID, Value: vote}
	result, err = s.store.ToggleVote(ctx, v)
	if err != nil {
		return 0, translate(err)
	}

	ev := events.New(events.VoteRetracted)
	if result != 0 {
		s.metrics.RecordVote(result)
		ev = events.New(events.VoteCast)
		ev.Value = result
	}
	ev.ShowID, ev.AuthorID, ev.UserID = showID, authorID, voterID
	s.publish(ctx, ev)
	return result, nil
}

// NetScore returns upvotes minus downvotes on a review, counted from the
// current votes.
func (s *Service) NetScore(ctx context.Context, showID, authorID int64) (int, error) {
	t, err := s.store.GetTally(ctx, showID, authorID)
	if err != nil {
		return 0, err
	}
	return t.Net(), nil
}
