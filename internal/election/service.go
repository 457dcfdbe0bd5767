package election

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"colegio.org/internal/apperr"
	"colegio.org/internal/audit"
	"colegio.org/internal/ids"
	"colegio.org/internal/obs"
)

// MaxSelections bounds the size of one ballot.
const MaxSelections = 100

// Auditor records election events.
type Auditor interface {
	Log(ctx context.Context, action, entity, entityID string, e audit.Entry)
}

type Service struct {
	store   Store
	auditor Auditor
	logger  *zap.Logger
	now     func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service)

func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) {
		if a != nil {
			s.auditor = a
		}
	}
}

func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("election store is required")
	}
	s := &Service{
		store:   store,
		auditor: audit.NewRecorder(nil, nil),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// VotableElections lists the open elections userID may still vote in.
func (s *Service) VotableElections(ctx context.Context, userID string) ([]VotableElection, error) {
	voter, err := s.store.Voter(ctx, userID)
	if err != nil {
		return nil, err
	}
	open, err := s.store.OpenElections(ctx, voter.AssociationID, s.now().UTC())
	if err != nil {
		return nil, err
	}

	candidates := make([]Election, 0, len(open))
	electionIDs := make([]string, 0, len(open))
	for _, e := range open {
		if !Eligible(e.ScopeRef(), voter) {
			continue
		}
		candidates = append(candidates, e)
		electionIDs = append(electionIDs, e.ID)
	}
	if len(candidates) == 0 {
		return []VotableElection{}, nil
	}

	voted, err := s.store.VotedPositions(ctx, userID, electionIDs)
	if err != nil {
		return nil, err
	}
	out := make([]VotableElection, 0, len(candidates))
	for _, e := range candidates {
		done := voted[e.ID]
		if coversAll(e.Positions, done) {
			continue
		}
		if done == nil {
			done = []string{}
		}
		out = append(out, VotableElection{Election: e, VotedPositionIDs: done})
	}
	return out, nil
}

func coversAll(positions []Position, voted []string) bool {
	if len(voted) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(voted))
	for _, id := range voted {
		set[id] = struct{}{}
	}
	for _, p := range positions {
		if _, ok := set[p.ID]; !ok {
			return false
		}
	}
	return true
}

// BulkVote records a complete ballot covering every position of the election.
// All checks and writes happen in one transaction.
func (s *Service) BulkVote(ctx context.Context, electionID, userID string, selections []Selection) (BallotReceipt, error) {
	if len(selections) > MaxSelections {
		obs.ObserveBallot("rejected", 0)
		return BallotReceipt{}, apperr.BadRequest("too many selections (max %d)", MaxSelections)
	}
	normalized := make([]Selection, len(selections))
	for i, sel := range selections {
		normalized[i] = Selection{
			CandidateID: strings.TrimSpace(sel.CandidateID),
			PositionID:  strings.TrimSpace(sel.PositionID),
		}
	}
	selections = normalized

	now := s.now().UTC()
	err := s.store.InBallotTx(ctx, func(tx BallotTx) error {
		return castBallot(ctx, tx, electionID, userID, selections, now)
	})
	if err != nil {
		obs.ObserveBallot(apperr.Kind(err), 0)
		return BallotReceipt{}, err
	}

	obs.ObserveBallot("success", len(selections))
	s.auditor.Log(ctx, "BALLOT_CAST", "Election", electionID, audit.Entry{
		UserID:   userID,
		Metadata: map[string]any{"positions": len(selections)},
	})
	return BallotReceipt{Message: "Votes cast successfully", Count: len(selections)}, nil
}

func castBallot(ctx context.Context, tx BallotTx, electionID, userID string, selections []Selection, now time.Time) error {
	e, err := tx.ElectionForBallot(ctx, electionID)
	if err != nil {
		return err
	}
	voter, err := tx.Voter(ctx, userID)
	if err != nil {
		return err
	}
	if !e.AcceptsVotesAt(now) {
		return apperr.Forbidden("this election is not open for voting")
	}
	if !voter.Usable() {
		return apperr.NotFound("user not found or is not active")
	}
	if !Eligible(e.ScopeRef(), voter) {
		return apperr.Forbidden("you are not eligible to vote in this election")
	}
	if len(selections) != len(e.Positions) {
		return apperr.BadRequest("you must vote for all available positions")
	}

	positionIDs := make([]string, 0, len(selections))
	seen := make(map[string]struct{}, len(selections))
	for _, sel := range selections {
		if _, dup := seen[sel.PositionID]; dup {
			return apperr.BadRequest("duplicate votes for the same position are not allowed")
		}
		seen[sel.PositionID] = struct{}{}
		positionIDs = append(positionIDs, sel.PositionID)
	}

	existing, err := tx.CountVotes(ctx, userID, positionIDs)
	if err != nil {
		return err
	}
	if existing > 0 {
		return apperr.Forbidden("you have already voted for one or more of these positions")
	}

	candidateIDs := make([]string, 0, len(selections))
	for _, sel := range selections {
		candidateIDs = append(candidateIDs, sel.CandidateID)
	}
	refs, err := tx.CandidatesByID(ctx, candidateIDs)
	if err != nil {
		return err
	}
	if len(refs) != len(selections) {
		return apperr.NotFound("one or more candidates were not found")
	}
	byID := make(map[string]CandidateRef, len(refs))
	for _, r := range refs {
		byID[r.ID] = r
	}
	for _, sel := range selections {
		ref, ok := byID[sel.CandidateID]
		if !ok || ref.ElectionID != e.ID || ref.PositionID != sel.PositionID {
			return apperr.BadRequest("invalid candidate or position mismatch for candidate %s", sel.CandidateID)
		}
	}

	votes := make([]Vote, 0, len(selections))
	for _, sel := range selections {
		votes = append(votes, Vote{
			ID:          ids.New(),
			UserID:      userID,
			ElectionID:  e.ID,
			PositionID:  sel.PositionID,
			CandidateID: sel.CandidateID,
			CreatedAt:   now,
		})
	}
	if err := tx.InsertVotes(ctx, votes); err != nil {
		return err
	}
	for _, id := range candidateIDs {
		if err := tx.IncrementVoteCount(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
