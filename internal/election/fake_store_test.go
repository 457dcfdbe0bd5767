package election

import (
	"context"
	"sort"
	"sync"
	"time"

	"colegio.org/internal/apperr"
)

// fakeStore keeps elections in memory. InBallotTx works on a copy and only
// publishes it when fn succeeds, mirroring a rolled back transaction.
type fakeStore struct {
	mu        sync.Mutex
	elections map[string]Election
	voters    map[string]VoterRef
	votes     []Vote
	names     map[string]string

	transitionErr map[string]error
	transitions   []string
	insertErr     error
	wrapTx        func(BallotTx) BallotTx
	beforeUpdate  func(*Election)
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		elections:     map[string]Election{},
		voters:        map[string]VoterRef{},
		names:         map[string]string{},
		transitionErr: map[string]error{},
	}
}

func cloneElection(e Election) Election {
	out := e
	out.Positions = append([]Position(nil), e.Positions...)
	out.Lists = make([]CandidateList, len(e.Lists))
	for i, l := range e.Lists {
		l.Candidates = append([]Candidate(nil), l.Candidates...)
		out.Lists[i] = l
	}
	return out
}

func (f *fakeStore) put(e Election) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.elections[e.ID] = cloneElection(e)
}

func (f *fakeStore) election(id string) Election {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneElection(f.elections[id])
}

func (f *fakeStore) voteCount(candidateID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.elections {
		for _, l := range e.Lists {
			for _, c := range l.Candidates {
				if c.ID == candidateID {
					return c.VoteCount
				}
			}
		}
	}
	return -1
}

func (f *fakeStore) Voter(_ context.Context, userID string) (VoterRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.voters[userID]
	if !ok {
		return VoterRef{}, apperr.NotFound("user not found")
	}
	return v, nil
}

func (f *fakeStore) OpenElections(_ context.Context, associationID string, now time.Time) ([]Election, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Election
	for _, e := range f.elections {
		if e.AssociationID == associationID && e.AcceptsVotesAt(now) {
			out = append(out, cloneElection(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) VotedPositions(_ context.Context, userID string, electionIDs []string) (map[string][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[string]bool{}
	for _, id := range electionIDs {
		want[id] = true
	}
	out := map[string][]string{}
	for _, v := range f.votes {
		if v.UserID == userID && want[v.ElectionID] {
			out[v.ElectionID] = append(out[v.ElectionID], v.PositionID)
		}
	}
	return out, nil
}

func (f *fakeStore) InBallotTx(ctx context.Context, fn func(BallotTx) error) error {
	f.mu.Lock()
	tx := &fakeTx{
		elections: map[string]Election{},
		voters:    f.voters,
		votes:     append([]Vote(nil), f.votes...),
		insertErr: f.insertErr,
	}
	for id, e := range f.elections {
		tx.elections[id] = cloneElection(e)
	}
	wrap := f.wrapTx
	f.mu.Unlock()

	var btx BallotTx = tx
	if wrap != nil {
		btx = wrap(tx)
	}
	if err := fn(btx); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.elections = tx.elections
	f.votes = tx.votes
	return nil
}

func (f *fakeStore) ResultSnapshot(_ context.Context, electionID string) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.elections[electionID]
	if !ok {
		return Snapshot{}, apperr.NotFound("election not found")
	}
	return Snapshot{Election: cloneElection(e), AssociationName: f.names[e.AssociationID]}, nil
}

func (f *fakeStore) DueToOpen(_ context.Context, now time.Time) ([]Election, error) {
	return f.due(func(e Election) bool { return e.Status == StatusDraft && !e.StartDate.After(now) }), nil
}

func (f *fakeStore) DueToClose(_ context.Context, now time.Time) ([]Election, error) {
	return f.due(func(e Election) bool { return e.Status == StatusOpen && !e.EndDate.After(now) }), nil
}

func (f *fakeStore) due(match func(Election) bool) []Election {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Election
	for _, e := range f.elections {
		if match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *fakeStore) TransitionStatus(_ context.Context, id string, from, to Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.transitionErr[id]; err != nil {
		return err
	}
	e, ok := f.elections[id]
	if !ok || e.Status != from {
		return apperr.NotFound("election not found")
	}
	e.Status = to
	f.elections[id] = e
	f.transitions = append(f.transitions, id+":"+string(to))
	return nil
}

func (f *fakeStore) CreateElection(_ context.Context, e Election) (Election, error) {
	f.put(e)
	return e, nil
}

func (f *fakeStore) ListElections(context.Context) ([]Election, error) {
	return f.due(func(Election) bool { return true }), nil
}

func (f *fakeStore) GetElection(_ context.Context, id string) (Election, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.elections[id]
	if !ok {
		return Election{}, apperr.NotFound("election not found")
	}
	return cloneElection(e), nil
}

func (f *fakeStore) UpdateElection(_ context.Context, id string, expected Status, upd ElectionUpdate) (Election, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.elections[id]
	if !ok {
		return Election{}, apperr.NotFound("election not found")
	}
	if f.beforeUpdate != nil {
		f.beforeUpdate(&e)
	}
	if e.Status != expected {
		f.elections[id] = e
		return Election{}, apperr.Conflict("election status changed to %s, reload and retry", e.Status)
	}
	if upd.Name != nil {
		e.Name = *upd.Name
	}
	if upd.Description != nil {
		e.Description = *upd.Description
	}
	if upd.StartDate != nil {
		e.StartDate = *upd.StartDate
	}
	if upd.EndDate != nil {
		e.EndDate = *upd.EndDate
	}
	if upd.Status != nil {
		e.Status = *upd.Status
	}
	f.elections[id] = e
	return cloneElection(e), nil
}

func (f *fakeStore) CreateList(_ context.Context, l CandidateList) (CandidateList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e := f.elections[l.ElectionID]
	e.Lists = append(e.Lists, l)
	f.elections[l.ElectionID] = e
	return l, nil
}

func (f *fakeStore) GetList(_ context.Context, id string) (CandidateList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.elections {
		for _, l := range e.Lists {
			if l.ID == id {
				l.Candidates = append([]Candidate(nil), l.Candidates...)
				return l, nil
			}
		}
	}
	return CandidateList{}, apperr.NotFound("candidate list not found")
}

func (f *fakeStore) DeleteList(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for eid, e := range f.elections {
		for i, l := range e.Lists {
			if l.ID == id {
				e.Lists = append(e.Lists[:i], e.Lists[i+1:]...)
				f.elections[eid] = e
				return nil
			}
		}
	}
	return apperr.NotFound("candidate list not found")
}

func (f *fakeStore) AddCandidate(_ context.Context, c Candidate) (Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for eid, e := range f.elections {
		for i, l := range e.Lists {
			if l.ID == c.ListID {
				e.Lists[i].Candidates = append(e.Lists[i].Candidates, c)
				f.elections[eid] = e
				return c, nil
			}
		}
	}
	return Candidate{}, apperr.NotFound("candidate list not found")
}

func (f *fakeStore) GetCandidate(_ context.Context, id string) (Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.elections {
		for _, l := range e.Lists {
			for _, c := range l.Candidates {
				if c.ID == id {
					return c, nil
				}
			}
		}
	}
	return Candidate{}, apperr.NotFound("candidate not found")
}

func (f *fakeStore) UpdateCandidate(_ context.Context, id string, upd CandidateUpdate) (Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.elections {
		for _, l := range e.Lists {
			for i, c := range l.Candidates {
				if c.ID != id {
					continue
				}
				if upd.FirstName != nil {
					c.FirstName = *upd.FirstName
				}
				if upd.LastName != nil {
					c.LastName = *upd.LastName
				}
				if upd.DNI != nil {
					c.DNI = *upd.DNI
				}
				l.Candidates[i] = c
				return c, nil
			}
		}
	}
	return Candidate{}, apperr.NotFound("candidate not found")
}

func (f *fakeStore) DeleteCandidate(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for eid, e := range f.elections {
		for li, l := range e.Lists {
			for i, c := range l.Candidates {
				if c.ID == id {
					e.Lists[li].Candidates = append(l.Candidates[:i], l.Candidates[i+1:]...)
					f.elections[eid] = e
					return nil
				}
			}
		}
	}
	return apperr.NotFound("candidate not found")
}

type fakeTx struct {
	elections map[string]Election
	voters    map[string]VoterRef
	votes     []Vote
	insertErr error
}

func (t *fakeTx) ElectionForBallot(_ context.Context, id string) (Election, error) {
	e, ok := t.elections[id]
	if !ok {
		return Election{}, apperr.NotFound("election not found")
	}
	return e, nil
}

func (t *fakeTx) Voter(_ context.Context, userID string) (VoterRef, error) {
	v, ok := t.voters[userID]
	if !ok {
		return VoterRef{}, apperr.NotFound("user not found")
	}
	return v, nil
}

func (t *fakeTx) CountVotes(_ context.Context, userID string, positionIDs []string) (int, error) {
	want := map[string]bool{}
	for _, id := range positionIDs {
		want[id] = true
	}
	n := 0
	for _, v := range t.votes {
		if v.UserID == userID && want[v.PositionID] {
			n++
		}
	}
	return n, nil
}

func (t *fakeTx) CandidatesByID(_ context.Context, ids []string) ([]CandidateRef, error) {
	want := map[string]bool{}
	for _, id := range ids {
		want[id] = true
	}
	var out []CandidateRef
	for _, e := range t.elections {
		for _, l := range e.Lists {
			for _, c := range l.Candidates {
				if want[c.ID] {
					out = append(out, CandidateRef{ID: c.ID, PositionID: c.PositionID, ListID: l.ID, ElectionID: e.ID})
				}
			}
		}
	}
	return out, nil
}

func (t *fakeTx) InsertVotes(_ context.Context, votes []Vote) error {
	if t.insertErr != nil {
		return t.insertErr
	}
	t.votes = append(t.votes, votes...)
	return nil
}

func (t *fakeTx) IncrementVoteCount(_ context.Context, candidateID string) error {
	for eid, e := range t.elections {
		for li, l := range e.Lists {
			for ci, c := range l.Candidates {
				if c.ID == candidateID {
					e.Lists[li].Candidates[ci].VoteCount++
					t.elections[eid] = e
					return nil
				}
			}
		}
	}
	return apperr.NotFound("candidate not found")
}

// failingIncrementTx fails the failAt-th IncrementVoteCount call after the
// earlier ones have been applied inside the transaction.
type failingIncrementTx struct {
	BallotTx
	failAt int
	calls  int
	err    error
}

func (t *failingIncrementTx) IncrementVoteCount(ctx context.Context, candidateID string) error {
	t.calls++
	if t.calls == t.failAt {
		return t.err
	}
	return t.BallotTx.IncrementVoteCount(ctx, candidateID)
}
