// Package election implements ballot eligibility, casting, tabulation and the
// status lifecycle of association elections.
package election

import (
	"strings"
	"time"
)

type Scope string

const (
	ScopeAssociation Scope = "ASSOCIATION"
	ScopeBranch      Scope = "BRANCH"
	ScopeChapter     Scope = "CHAPTER"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeAssociation, ScopeBranch, ScopeChapter:
		return true
	}
	return false
}

type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusOpen      Status = "OPEN"
	StatusClosed    Status = "CLOSED"
	StatusCompleted Status = "COMPLETED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusOpen, StatusClosed, StatusCompleted:
		return true
	}
	return false
}

type Election struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	StartDate     time.Time       `json:"startDate"`
	EndDate       time.Time       `json:"endDate"`
	Scope         Scope           `json:"scope"`
	Status        Status          `json:"status"`
	AssociationID string          `json:"associationId"`
	BranchID      string          `json:"branchId,omitempty"`
	ChapterID     string          `json:"chapterId,omitempty"`
	Positions     []Position      `json:"positions"`
	Lists         []CandidateList `json:"candidateLists,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// ScopeRef is the part of an election that decides who may vote in it.
func (e Election) ScopeRef() ScopeRef {
	return ScopeRef{Scope: e.Scope, AssociationID: e.AssociationID, BranchID: e.BranchID, ChapterID: e.ChapterID}
}

// AcceptsVotesAt reports whether the election is OPEN and now lies within [start, end].
func (e Election) AcceptsVotesAt(now time.Time) bool {
	return e.Status == StatusOpen && !now.Before(e.StartDate) && !now.After(e.EndDate)
}

type Position struct {
	ID         string `json:"id"`
	ElectionID string `json:"electionId"`
	Title      string `json:"title"`
	Order      int    `json:"order"`
}

type CandidateList struct {
	ID               string      `json:"id"`
	ElectionID       string      `json:"electionId"`
	Name             string      `json:"name"`
	Number           *int        `json:"number,omitempty"`
	PoliticalPartyID string      `json:"politicalPartyId,omitempty"`
	PartyName        string      `json:"partyName,omitempty"`
	Candidates       []Candidate `json:"candidates,omitempty"`
	CreatedAt        time.Time   `json:"createdAt"`
}

type Candidate struct {
	ID         string    `json:"id"`
	ListID     string    `json:"candidateListId"`
	PositionID string    `json:"positionId"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	DNI        string    `json:"dni,omitempty"`
	PhotoURL   string    `json:"photoUrl,omitempty"`
	VoteCount  int       `json:"voteCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (c Candidate) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// CandidateRef is a candidate resolved together with the election its list belongs to.
type CandidateRef struct {
	ID         string
	PositionID string
	ListID     string
	ElectionID string
}

type Vote struct {
	ID          string
	UserID      string
	ElectionID  string
	PositionID  string
	CandidateID string
	CreatedAt   time.Time
}

type Selection struct {
	CandidateID string `json:"candidateId"`
	PositionID  string `json:"electionPositionId"`
}

// VoterRef is a user together with its organizational chain.
type VoterRef struct {
	UserID        string
	AssociationID string
	BranchID      string
	ChapterID     string
	IsActive      bool
	Deleted       bool
}

func (v VoterRef) Usable() bool { return v.IsActive && !v.Deleted }

// VotableElection is an open election annotated with the positions the voter already covered.
type VotableElection struct {
	Election
	VotedPositionIDs []string `json:"votedPositionIds"`
}

type BallotReceipt struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}
