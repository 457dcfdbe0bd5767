package election

import (
	"context"
	"sort"

	"colegio.org/internal/apperr"
)

// Snapshot is the data the tabulator reads: the election, its positions and
// every list with its candidates and their counters.
type Snapshot struct {
	Election        Election
	AssociationName string
	BranchName      string
	ChapterName     string
}

type CandidateResult struct {
	CandidateID   string  `json:"candidateId"`
	CandidateName string  `json:"candidateName"`
	PositionID    string  `json:"positionId"`
	PositionTitle string  `json:"positionTitle"`
	ListID        string  `json:"listId"`
	ListName      string  `json:"listName"`
	PartyName     string  `json:"partyName,omitempty"`
	VoteCount     int     `json:"voteCount"`
	Percentage    float64 `json:"percentage"`
}

type ListResult struct {
	ListID     string            `json:"listId"`
	ListName   string            `json:"listName"`
	ListNumber *int              `json:"listNumber"`
	PartyName  string            `json:"partyName,omitempty"`
	TotalVotes int               `json:"totalVotes"`
	Percentage float64           `json:"percentage"`
	Candidates []CandidateResult `json:"candidates"`
}

type PositionResult struct {
	PositionID    string            `json:"positionId"`
	PositionTitle string            `json:"positionTitle"`
	Order         int               `json:"order"`
	Candidates    []CandidateResult `json:"candidates"`
}

type Results struct {
	ElectionID       string            `json:"electionId"`
	ElectionName     string            `json:"electionName"`
	ElectionScope    Scope             `json:"electionScope"`
	ElectionStatus   Status            `json:"electionStatus"`
	AssociationName  string            `json:"associationName"`
	BranchName       string            `json:"branchName,omitempty"`
	ChapterName      string            `json:"chapterName,omitempty"`
	TotalVotes       int               `json:"totalVotes"`
	CandidateResults []CandidateResult `json:"candidateResults"`
	ListResults      []ListResult      `json:"listResults"`
	PositionResults  []PositionResult  `json:"positionResults"`
}

// Tabulate projects a snapshot into results. A candidate's percentage is
// relative to the votes of its position; a list's to the election total.
// Either is zero when the denominator is zero.
func Tabulate(snap Snapshot) Results {
	e := snap.Election
	positions := append([]Position(nil), e.Positions...)
	sort.SliceStable(positions, func(i, j int) bool { return positions[i].Order < positions[j].Order })
	titles := make(map[string]string, len(positions))
	for _, p := range positions {
		titles[p.ID] = p.Title
	}

	total := 0
	byPosition := make(map[string]int)
	for _, l := range e.Lists {
		for _, c := range l.Candidates {
			total += c.VoteCount
			byPosition[c.PositionID] += c.VoteCount
		}
	}

	candidates := make([]CandidateResult, 0)
	lists := make([]ListResult, 0, len(e.Lists))
	for _, l := range e.Lists {
		lr := ListResult{
			ListID:     l.ID,
			ListName:   l.Name,
			ListNumber: l.Number,
			PartyName:  l.PartyName,
			Candidates: []CandidateResult{},
		}
		for _, c := range l.Candidates {
			cr := CandidateResult{
				CandidateID:   c.ID,
				CandidateName: c.FullName(),
				PositionID:    c.PositionID,
				PositionTitle: titles[c.PositionID],
				ListID:        l.ID,
				ListName:      l.Name,
				PartyName:     l.PartyName,
				VoteCount:     c.VoteCount,
				Percentage:    percentage(c.VoteCount, byPosition[c.PositionID]),
			}
			candidates = append(candidates, cr)
			lr.Candidates = append(lr.Candidates, cr)
			lr.TotalVotes += c.VoteCount
		}
		lr.Percentage = percentage(lr.TotalVotes, total)
		lists = append(lists, lr)
	}

	positionResults := make([]PositionResult, 0, len(positions))
	for _, p := range positions {
		pr := PositionResult{PositionID: p.ID, PositionTitle: p.Title, Order: p.Order, Candidates: []CandidateResult{}}
		for _, cr := range candidates {
			if cr.PositionID == p.ID {
				pr.Candidates = append(pr.Candidates, cr)
			}
		}
		positionResults = append(positionResults, pr)
	}

	return Results{
		ElectionID:       e.ID,
		ElectionName:     e.Name,
		ElectionScope:    e.Scope,
		ElectionStatus:   e.Status,
		AssociationName:  snap.AssociationName,
		BranchName:       snap.BranchName,
		ChapterName:      snap.ChapterName,
		TotalVotes:       total,
		CandidateResults: candidates,
		ListResults:      lists,
		PositionResults:  positionResults,
	}
}

func percentage(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return float64(part) / float64(whole) * 100
}

// Results returns the tally of a COMPLETED election.
func (s *Service) Results(ctx context.Context, electionID string) (Results, error) {
	snap, err := s.store.ResultSnapshot(ctx, electionID)
	if err != nil {
		return Results{}, err
	}
	if snap.Election.Status != StatusCompleted {
		return Results{}, apperr.Forbidden("results are only available for completed elections")
	}
	return Tabulate(snap), nil
}

func (s *Service) ResultsByPosition(ctx context.Context, electionID string) ([]PositionResult, error) {
	res, err := s.Results(ctx, electionID)
	if err != nil {
		return nil, err
	}
	return res.PositionResults, nil
}

func (s *Service) ResultsByList(ctx context.Context, electionID string) ([]ListResult, error) {
	res, err := s.Results(ctx, electionID)
	if err != nil {
		return nil, err
	}
	return res.ListResults, nil
}
