package httpapi

import (
	"net/http"

	"colegio.org/internal/apperr"
	"colegio.org/internal/auth"
	"colegio.org/internal/election"
	"colegio.org/internal/ids"
)

func (a *API) electionRoutes() {
	a.mux.Handle("GET /elections/votable", a.member(a.handleVotable))
	a.mux.Handle("POST /elections/{id}/bulk-vote", a.member(a.handleBulkVote))

	manage := func(h http.HandlerFunc) http.Handler { return a.gate(auth.PermElectionsManage, h) }
	a.mux.Handle("POST /elections", manage(a.handleCreateElection))
	a.mux.Handle("GET /elections", manage(a.handleListElections))
	a.mux.Handle("GET /elections/{id}", manage(a.handleGetElection))
	a.mux.Handle("PUT /elections/{id}", manage(a.handleUpdateElection))
	a.mux.Handle("POST /elections/{id}/lists", manage(a.handleCreateList))
	a.mux.Handle("DELETE /elections/lists/{listId}", manage(a.handleDeleteList))
	a.mux.Handle("POST /elections/lists/{listId}/candidates", manage(a.handleAddCandidate))
	a.mux.Handle("PUT /elections/candidates/{candidateId}", manage(a.handleUpdateCandidate))
	a.mux.Handle("DELETE /elections/candidates/{candidateId}", manage(a.handleDeleteCandidate))
	a.mux.Handle("GET /elections/{id}/results", manage(a.handleResults))
	a.mux.Handle("GET /elections/{id}/results/by-position", manage(a.handleResultsByPosition))
	a.mux.Handle("GET /elections/{id}/results/by-list", manage(a.handleResultsByList))
}

// pathID returns the named path value, rejecting malformed identifiers as
// not found so callers cannot probe the id space.
func pathID(r *http.Request, name string) (string, error) {
	id := r.PathValue(name)
	if !ids.Valid(id) {
		return "", apperr.NotFound("%s not found", name)
	}
	return id, nil
}

func (a *API) handleVotable(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.Elections.VotableElections(r.Context(), principal(r).User.ID)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleBulkVote(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req bulkVoteRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	receipt, err := a.svc.Elections.BulkVote(r.Context(), id, principal(r).User.ID, req.selections())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (a *API) handleCreateElection(w http.ResponseWriter, r *http.Request) {
	var req createElectionRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	e, err := a.svc.Elections.Create(r.Context(), req.input())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (a *API) handleListElections(w http.ResponseWriter, r *http.Request) {
	out, err := a.svc.Elections.List(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetElection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	e, err := a.svc.Elections.Get(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) handleUpdateElection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req updateElectionRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	e, err := a.svc.Elections.Update(r.Context(), id, req.update())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) handleCreateList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req createListRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	list, err := a.svc.Elections.CreateList(r.Context(), id, election.NewCandidateList{
		Name:             req.Name,
		Number:           req.Number,
		PoliticalPartyID: req.PoliticalPartyID,
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

func (a *API) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "listId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if err := a.svc.Elections.DeleteList(r.Context(), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "listId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req createCandidateRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	c, err := a.svc.Elections.AddCandidate(r.Context(), id, election.NewCandidate{
		PositionID: req.PositionID,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		DNI:        req.DNI,
		PhotoURL:   req.PhotoURL,
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (a *API) handleUpdateCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "candidateId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req updateCandidateRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	c, err := a.svc.Elections.UpdateCandidate(r.Context(), id, election.CandidateUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		DNI:       req.DNI,
		PhotoURL:  req.PhotoURL,
	})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (a *API) handleDeleteCandidate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "candidateId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if err := a.svc.Elections.DeleteCandidate(r.Context(), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleResults(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	res, err := a.svc.Elections.Results(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleResultsByPosition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	res, err := a.svc.Elections.ResultsByPosition(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) handleResultsByList(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	res, err := a.svc.Elections.ResultsByList(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
