package election

import (
	"context"
	"strings"
	"time"

	"colegio.org/internal/apperr"
	"colegio.org/internal/audit"
	"colegio.org/internal/auth"
	"colegio.org/internal/ids"
)

type NewPosition struct {
	Title string `json:"title"`
	Order int    `json:"order"`
}

type NewElection struct {
	Name          string        `json:"name"`
	Description   string        `json:"description"`
	StartDate     time.Time     `json:"startDate"`
	EndDate       time.Time     `json:"endDate"`
	Scope         Scope         `json:"scope"`
	AssociationID string        `json:"associationId"`
	BranchID      string        `json:"branchId"`
	ChapterID     string        `json:"chapterId"`
	Positions     []NewPosition `json:"positions"`
}

// ElectionUpdate enumerates mutable election fields; nil means unchanged.
type ElectionUpdate struct {
	Name        *string
	Description *string
	StartDate   *time.Time
	EndDate     *time.Time
	Status      *Status
}

func (u ElectionUpdate) Empty() bool {
	return u.Name == nil && u.Description == nil && u.StartDate == nil && u.EndDate == nil && u.Status == nil
}

type NewCandidateList struct {
	Name             string `json:"name"`
	Number           *int   `json:"number"`
	PoliticalPartyID string `json:"politicalPartyId"`
}

type NewCandidate struct {
	PositionID string `json:"positionId"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	DNI        string `json:"dni"`
	PhotoURL   string `json:"photoUrl"`
}

type CandidateUpdate struct {
	FirstName *string
	LastName  *string
	DNI       *string
	PhotoURL  *string
}

func (s *Service) Create(ctx context.Context, in NewElection) (Election, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return Election{}, apperr.BadRequest("name is required")
	}
	if !in.Scope.Valid() {
		return Election{}, apperr.BadRequest("invalid scope %q", in.Scope)
	}
	if strings.TrimSpace(in.AssociationID) == "" {
		return Election{}, apperr.BadRequest("associationId is required")
	}
	if in.StartDate.IsZero() || in.EndDate.IsZero() || !in.StartDate.Before(in.EndDate) {
		return Election{}, apperr.BadRequest("startDate must be before endDate")
	}
	switch in.Scope {
	case ScopeBranch:
		if strings.TrimSpace(in.BranchID) == "" {
			return Election{}, apperr.BadRequest("branchId is required for BRANCH scope")
		}
		in.ChapterID = ""
	case ScopeChapter:
		if strings.TrimSpace(in.ChapterID) == "" {
			return Election{}, apperr.BadRequest("chapterId is required for CHAPTER scope")
		}
	case ScopeAssociation:
		in.BranchID, in.ChapterID = "", ""
	}
	if len(in.Positions) == 0 {
		return Election{}, apperr.BadRequest("at least one position is required")
	}

	e := Election{
		ID:            ids.New(),
		Name:          in.Name,
		Description:   strings.TrimSpace(in.Description),
		StartDate:     in.StartDate.UTC(),
		EndDate:       in.EndDate.UTC(),
		Scope:         in.Scope,
		Status:        StatusDraft,
		AssociationID: in.AssociationID,
		BranchID:      in.BranchID,
		ChapterID:     in.ChapterID,
	}
	orders := make(map[int]struct{}, len(in.Positions))
	for _, p := range in.Positions {
		title := strings.TrimSpace(p.Title)
		if title == "" {
			return Election{}, apperr.BadRequest("position title is required")
		}
		if _, dup := orders[p.Order]; dup {
			return Election{}, apperr.BadRequest("duplicate position order %d", p.Order)
		}
		orders[p.Order] = struct{}{}
		e.Positions = append(e.Positions, Position{ID: ids.New(), ElectionID: e.ID, Title: title, Order: p.Order})
	}

	created, err := s.store.CreateElection(ctx, e)
	if err != nil {
		return Election{}, err
	}
	s.record(ctx, "ELECTION_CREATE", "Election", created.ID, map[string]any{"name": created.Name})
	return created, nil
}

func (s *Service) List(ctx context.Context) ([]Election, error) {
	return s.store.ListElections(ctx)
}

func (s *Service) Get(ctx context.Context, electionID string) (Election, error) {
	return s.store.GetElection(ctx, electionID)
}

// Update applies a partial update. Status changes follow ValidateTransition and
// dates are frozen once the election leaves DRAFT.
func (s *Service) Update(ctx context.Context, electionID string, upd ElectionUpdate) (Election, error) {
	if upd.Empty() {
		return Election{}, apperr.BadRequest("no fields to update")
	}
	current, err := s.store.GetElection(ctx, electionID)
	if err != nil {
		return Election{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return Election{}, apperr.BadRequest("name cannot be empty")
		}
		upd.Name = &name
	}
	if upd.StartDate != nil || upd.EndDate != nil {
		if current.Status != StatusDraft {
			return Election{}, apperr.Forbidden("dates cannot change once the election is %s", current.Status)
		}
		start, end := current.StartDate, current.EndDate
		if upd.StartDate != nil {
			start = upd.StartDate.UTC()
			upd.StartDate = &start
		}
		if upd.EndDate != nil {
			end = upd.EndDate.UTC()
			upd.EndDate = &end
		}
		if !start.Before(end) {
			return Election{}, apperr.BadRequest("startDate must be before endDate")
		}
	}
	if upd.Status != nil {
		if !upd.Status.Valid() {
			return Election{}, apperr.BadRequest("invalid status %q", *upd.Status)
		}
		if *upd.Status == current.Status {
			upd.Status = nil
		} else if err := ValidateTransition(current.Status, *upd.Status); err != nil {
			return Election{}, err
		}
	}
	if upd.Empty() {
		return current, nil
	}

	updated, err := s.store.UpdateElection(ctx, electionID, current.Status, upd)
	if err != nil {
		return Election{}, err
	}
	meta := map[string]any{}
	if upd.Status != nil {
		meta["from"] = current.Status
		meta["to"] = *upd.Status
	}
	s.record(ctx, "ELECTION_UPDATE", "Election", electionID, meta)
	return updated, nil
}

func (s *Service) CreateList(ctx context.Context, electionID string, in NewCandidateList) (CandidateList, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return CandidateList{}, apperr.BadRequest("list name is required")
	}
	e, err := s.store.GetElection(ctx, electionID)
	if err != nil {
		return CandidateList{}, err
	}
	if err := requireDraft(e); err != nil {
		return CandidateList{}, err
	}
	list, err := s.store.CreateList(ctx, CandidateList{
		ID:               ids.New(),
		ElectionID:       e.ID,
		Name:             in.Name,
		Number:           in.Number,
		PoliticalPartyID: strings.TrimSpace(in.PoliticalPartyID),
	})
	if err != nil {
		return CandidateList{}, err
	}
	s.record(ctx, "LIST_CREATE", "CandidateList", list.ID, map[string]any{"electionId": e.ID})
	return list, nil
}

func (s *Service) DeleteList(ctx context.Context, listID string) error {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return err
	}
	if err := s.requireDraftElection(ctx, list.ElectionID); err != nil {
		return err
	}
	if err := s.store.DeleteList(ctx, list.ID); err != nil {
		return err
	}
	s.record(ctx, "LIST_DELETE", "CandidateList", list.ID, map[string]any{"electionId": list.ElectionID})
	return nil
}

// AddCandidate fills one position of a list. The position must belong to the
// list's election and each list holds at most one candidate per position.
func (s *Service) AddCandidate(ctx context.Context, listID string, in NewCandidate) (Candidate, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if in.FirstName == "" || in.LastName == "" {
		return Candidate{}, apperr.BadRequest("firstName and lastName are required")
	}
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return Candidate{}, err
	}
	e, err := s.store.GetElection(ctx, list.ElectionID)
	if err != nil {
		return Candidate{}, err
	}
	if err := requireDraft(e); err != nil {
		return Candidate{}, err
	}
	if !hasPosition(e, in.PositionID) {
		return Candidate{}, apperr.BadRequest("position does not belong to the same election as the candidate list")
	}
	for _, c := range list.Candidates {
		if c.PositionID == in.PositionID {
			return Candidate{}, apperr.Conflict("this position already has a candidate in this list")
		}
	}
	c, err := s.store.AddCandidate(ctx, Candidate{
		ID:         ids.New(),
		ListID:     list.ID,
		PositionID: in.PositionID,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		DNI:        strings.TrimSpace(in.DNI),
		PhotoURL:   strings.TrimSpace(in.PhotoURL),
	})
	if err != nil {
		return Candidate{}, err
	}
	s.record(ctx, "CANDIDATE_CREATE", "Candidate", c.ID, map[string]any{"listId": list.ID})
	return c, nil
}

func (s *Service) UpdateCandidate(ctx context.Context, candidateID string, upd CandidateUpdate) (Candidate, error) {
	if upd.FirstName == nil && upd.LastName == nil && upd.DNI == nil && upd.PhotoURL == nil {
		return Candidate{}, apperr.BadRequest("no fields to update")
	}
	for _, f := range []**string{&upd.FirstName, &upd.LastName} {
		if *f == nil {
			continue
		}
		v := strings.TrimSpace(**f)
		if v == "" {
			return Candidate{}, apperr.BadRequest("candidate names cannot be empty")
		}
		*f = &v
	}
	if err := s.requireDraftCandidate(ctx, candidateID); err != nil {
		return Candidate{}, err
	}
	c, err := s.store.UpdateCandidate(ctx, candidateID, upd)
	if err != nil {
		return Candidate{}, err
	}
	s.record(ctx, "CANDIDATE_UPDATE", "Candidate", c.ID, nil)
	return c, nil
}

func (s *Service) DeleteCandidate(ctx context.Context, candidateID string) error {
	if err := s.requireDraftCandidate(ctx, candidateID); err != nil {
		return err
	}
	if err := s.store.DeleteCandidate(ctx, candidateID); err != nil {
		return err
	}
	s.record(ctx, "CANDIDATE_DELETE", "Candidate", candidateID, nil)
	return nil
}

func (s *Service) requireDraftCandidate(ctx context.Context, candidateID string) error {
	c, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return err
	}
	list, err := s.store.GetList(ctx, c.ListID)
	if err != nil {
		return err
	}
	return s.requireDraftElection(ctx, list.ElectionID)
}

func (s *Service) requireDraftElection(ctx context.Context, electionID string) error {
	e, err := s.store.GetElection(ctx, electionID)
	if err != nil {
		return err
	}
	return requireDraft(e)
}

func requireDraft(e Election) error {
	if e.Status != StatusDraft {
		return apperr.Forbidden("candidate lists can only be edited while the election is DRAFT")
	}
	return nil
}

func hasPosition(e Election, positionID string) bool {
	for _, p := range e.Positions {
		if p.ID == positionID {
			return true
		}
	}
	return false
}

func (s *Service) record(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	actor, _ := auth.UserIDFromContext(ctx)
	s.auditor.Log(ctx, action, entity, entityID, audit.Entry{UserID: actor, Metadata: meta})
}
