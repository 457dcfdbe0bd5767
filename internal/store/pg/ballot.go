package pg

import (
	"context"
	"database/sql"
	"strings"

	"colegio.org/internal/apperr"
	"colegio.org/internal/election"
)

// InBallotTx runs fn in a serializable transaction. A serialization failure
// surfaces as apperr.ErrConflict so the client can retry.
func (s *Store) InBallotTx(ctx context.Context, fn func(election.BallotTx) error) error {
	return s.inTx(ctx, serializable, func(tx *sql.Tx) error {
		return fn(&ballotTx{tx: tx})
	})
}

type ballotTx struct {
	tx *sql.Tx
}

func (b *ballotTx) ElectionForBallot(ctx context.Context, electionID string) (election.Election, error) {
	e, err := scanElection(b.tx.QueryRowContext(ctx, `
		select `+electionColumns+`
		from elections e
		where e.id = $1
		for share
	`, electionID))
	if err != nil {
		return election.Election{}, mapError(err, "election")
	}
	es := []election.Election{e}
	if err := hydrate(ctx, b.tx, es, false); err != nil {
		return election.Election{}, err
	}
	return es[0], nil
}

func (b *ballotTx) Voter(ctx context.Context, userID string) (election.VoterRef, error) {
	return voter(ctx, b.tx, userID)
}

func (b *ballotTx) CountVotes(ctx context.Context, userID string, positionIDs []string) (int, error) {
	if len(positionIDs) == 0 {
		return 0, nil
	}
	var n int
	err := b.tx.QueryRowContext(ctx, `
		select count(*)
		from votes
		where user_id = $1 and position_id in (`+placeholders(2, len(positionIDs))+`)
	`, append([]any{userID}, stringArgs(positionIDs)...)...).Scan(&n)
	if err != nil {
		return 0, mapError(err, "vote")
	}
	return n, nil
}

func (b *ballotTx) CandidatesByID(ctx context.Context, candidateIDs []string) ([]election.CandidateRef, error) {
	if len(candidateIDs) == 0 {
		return nil, nil
	}
	rows, err := b.tx.QueryContext(ctx, `
		select c.id, c.position_id, c.list_id, l.election_id
		from candidates c
		join candidate_lists l on l.id = c.list_id
		where c.id in (`+placeholders(1, len(candidateIDs))+`)
	`, stringArgs(candidateIDs)...)
	if err != nil {
		return nil, mapError(err, "candidate")
	}
	defer rows.Close()

	var out []election.CandidateRef
	for rows.Next() {
		var ref election.CandidateRef
		if err := rows.Scan(&ref.ID, &ref.PositionID, &ref.ListID, &ref.ElectionID); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// InsertVotes writes the whole ballot in one statement. The unique
// (user_id, position_id) constraint turns a lost race into a Conflict.
func (b *ballotTx) InsertVotes(ctx context.Context, votes []election.Vote) error {
	if len(votes) == 0 {
		return nil
	}
	const cols = 6
	values := make([]string, len(votes))
	args := make([]any, 0, len(votes)*cols)
	for i, v := range votes {
		values[i] = "(" + placeholders(i*cols+1, cols) + ")"
		args = append(args, v.ID, v.UserID, v.ElectionID, v.PositionID, v.CandidateID, v.CreatedAt)
	}
	_, err := b.tx.ExecContext(ctx, `
		insert into votes (id, user_id, election_id, position_id, candidate_id, created_at)
		values `+strings.Join(values, ", "), args...)
	if err != nil {
		if isUnique(err) {
			return apperr.Conflict("you have already voted for one or more of these positions")
		}
		return mapError(err, "vote")
	}
	return nil
}

func (b *ballotTx) IncrementVoteCount(ctx context.Context, candidateID string) error {
	res, err := b.tx.ExecContext(ctx, `update candidates set vote_count = vote_count + 1 where id = $1`, candidateID)
	if err != nil {
		return mapError(err, "candidate")
	}
	return expectAffected(res, "candidate")
}
