package election

import (
	"context"
	"time"
)

// BallotTx is the view of the store available inside a ballot transaction.
type BallotTx interface {
	// ElectionForBallot loads the election with its positions, holding a share lock on the row.
	ElectionForBallot(ctx context.Context, electionID string) (Election, error)
	Voter(ctx context.Context, userID string) (VoterRef, error)
	CountVotes(ctx context.Context, userID string, positionIDs []string) (int, error)
	CandidatesByID(ctx context.Context, candidateIDs []string) ([]CandidateRef, error)
	// InsertVotes writes all rows in one statement. A (user, position) collision is apperr.ErrConflict.
	InsertVotes(ctx context.Context, votes []Vote) error
	IncrementVoteCount(ctx context.Context, candidateID string) error
}

// BallotStore is used by eligibility listing and ballot casting.
type BallotStore interface {
	Voter(ctx context.Context, userID string) (VoterRef, error)
	// OpenElections returns OPEN elections of the association whose window contains now, with positions.
	OpenElections(ctx context.Context, associationID string, now time.Time) ([]Election, error)
	// VotedPositions maps election id to the position ids userID voted for.
	VotedPositions(ctx context.Context, userID string, electionIDs []string) (map[string][]string, error)
	// InBallotTx runs fn inside one serializable transaction; any error rolls it back.
	InBallotTx(ctx context.Context, fn func(BallotTx) error) error
}

// ResultStore loads the read projection used by the tabulator.
type ResultStore interface {
	ResultSnapshot(ctx context.Context, electionID string) (Snapshot, error)
}

// LifecycleStore backs the status scheduler.
type LifecycleStore interface {
	DueToOpen(ctx context.Context, now time.Time) ([]Election, error)
	DueToClose(ctx context.Context, now time.Time) ([]Election, error)
	// TransitionStatus updates the row only while it still has status from; otherwise apperr.ErrNotFound.
	TransitionStatus(ctx context.Context, electionID string, from, to Status) error
}

// AdminStore persists elections, candidate lists and candidates.
type AdminStore interface {
	CreateElection(ctx context.Context, e Election) (Election, error)
	ListElections(ctx context.Context) ([]Election, error)
	GetElection(ctx context.Context, electionID string) (Election, error)
	// UpdateElection applies upd only while the election still has status
	// expected; a concurrent status change is apperr.ErrConflict.
	UpdateElection(ctx context.Context, electionID string, expected Status, upd ElectionUpdate) (Election, error)

	CreateList(ctx context.Context, list CandidateList) (CandidateList, error)
	GetList(ctx context.Context, listID string) (CandidateList, error)
	// DeleteList removes the list's candidates and then the list, atomically.
	DeleteList(ctx context.Context, listID string) error

	AddCandidate(ctx context.Context, c Candidate) (Candidate, error)
	GetCandidate(ctx context.Context, candidateID string) (Candidate, error)
	UpdateCandidate(ctx context.Context, candidateID string, upd CandidateUpdate) (Candidate, error)
	DeleteCandidate(ctx context.Context, candidateID string) error
}

// Store is everything the election service needs.
type Store interface {
	BallotStore
	ResultStore
	LifecycleStore
	AdminStore
}
