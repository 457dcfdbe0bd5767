package httpapi

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"colegio.org/internal/auth"
	"colegio.org/internal/election"
	"colegio.org/internal/ids"
)

type validatable interface {
	Validate() error
}

var dniPattern = regexp.MustCompile(`^\d{8}$`)

var errInvalidID = errors.New("must be a valid identifier")

// validID accepts empty values so it composes with validation.Required.
var validID = validation.By(func(value interface{}) error {
	v, isNil := validation.Indirect(value)
	if isNil || validation.IsEmpty(v) {
		return nil
	}
	s, ok := v.(string)
	if !ok || !ids.Valid(s) {
		return errInvalidID
	}
	return nil
})

// writeValidationError reports ozzo field errors as a 400 with a "fields" map.
func writeValidationError(w http.ResponseWriter, r *http.Request, err error) {
	payload := map[string]any{"error": "validation failed", "category": "bad_request"}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		fields := make(map[string]string, len(fieldErrs))
		for name, fe := range fieldErrs {
			fields[name] = fe.Error()
		}
		payload["fields"] = fields
	} else {
		payload["error"] = err.Error()
	}
	writeErrorBody(w, r, http.StatusBadRequest, payload)
}

type loginRequest struct {
	DNI      string `json:"dni"`
	Password string `json:"password"`
}

func (req *loginRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.DNI, validation.Required, validation.Match(dniPattern).Error("dni must be 8 digits")),
		validation.Field(&req.Password, validation.Required),
	)
}

type forgotPasswordRequest struct {
	DNI string `json:"dni"`
}

func (req *forgotPasswordRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.DNI, validation.Required, validation.Match(dniPattern).Error("dni must be 8 digits")),
	)
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (req *resetPasswordRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Token, validation.Required),
		validation.Field(&req.NewPassword, validation.Required, validation.Length(8, 128)),
	)
}

type updateProfileRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	Phone     *string `json:"phone"`
	Email     *string `json:"email"`
}

func (req *updateProfileRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.FirstName, validation.NilOrNotEmpty, validation.Length(1, 100)),
		validation.Field(&req.LastName, validation.NilOrNotEmpty, validation.Length(1, 100)),
		validation.Field(&req.Phone, validation.Length(1, 20)),
		validation.Field(&req.Email, is.Email),
	)
}

func (req *updateProfileRequest) update() auth.ProfileUpdate {
	return auth.ProfileUpdate{FirstName: req.FirstName, LastName: req.LastName, Phone: req.Phone, Email: req.Email}
}

type selectionRequest struct {
	CandidateID string `json:"candidateId"`
	PositionID  string `json:"electionPositionId"`
}

func (s selectionRequest) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.CandidateID, validation.Required, validID),
		validation.Field(&s.PositionID, validation.Required, validID),
	)
}

type bulkVoteRequest struct {
	Selections []selectionRequest `json:"selections"`
}

func (req *bulkVoteRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Selections, validation.Required),
	)
}

func (req *bulkVoteRequest) selections() []election.Selection {
	out := make([]election.Selection, len(req.Selections))
	for i, s := range req.Selections {
		out[i] = election.Selection{CandidateID: s.CandidateID, PositionID: s.PositionID}
	}
	return out
}

type positionRequest struct {
	Title string `json:"title"`
	Order int    `json:"order"`
}

func (p positionRequest) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.Required, validation.Length(1, 200)),
		validation.Field(&p.Order, validation.Required, validation.Min(1)),
	)
}

type createElectionRequest struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	StartDate     time.Time         `json:"startDate"`
	EndDate       time.Time         `json:"endDate"`
	Scope         string            `json:"scope"`
	AssociationID string            `json:"associationId"`
	BranchID      string            `json:"branchId"`
	ChapterID     string            `json:"chapterId"`
	Positions     []positionRequest `json:"positions"`
}

func (req *createElectionRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&req.StartDate, validation.Required),
		validation.Field(&req.EndDate, validation.Required),
		validation.Field(&req.Scope, validation.Required,
			validation.In(string(election.ScopeAssociation), string(election.ScopeBranch), string(election.ScopeChapter))),
		validation.Field(&req.AssociationID, validation.Required, validID),
		validation.Field(&req.BranchID, validID),
		validation.Field(&req.ChapterID, validID),
		validation.Field(&req.Positions, validation.Required),
	)
}

func (req *createElectionRequest) input() election.NewElection {
	positions := make([]election.NewPosition, len(req.Positions))
	for i, p := range req.Positions {
		positions[i] = election.NewPosition{Title: strings.TrimSpace(p.Title), Order: p.Order}
	}
	return election.NewElection{
		Name:          strings.TrimSpace(req.Name),
		Description:   req.Description,
		StartDate:     req.StartDate,
		EndDate:       req.EndDate,
		Scope:         election.Scope(req.Scope),
		AssociationID: req.AssociationID,
		BranchID:      req.BranchID,
		ChapterID:     req.ChapterID,
		Positions:     positions,
	}
}

type updateElectionRequest struct {
	Name        *string    `json:"name"`
	Description *string    `json:"description"`
	StartDate   *time.Time `json:"startDate"`
	EndDate     *time.Time `json:"endDate"`
	Status      *string    `json:"status"`
}

func (req *updateElectionRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Name, validation.NilOrNotEmpty, validation.Length(1, 200)),
		validation.Field(&req.Status, validation.In(
			string(election.StatusDraft), string(election.StatusOpen),
			string(election.StatusClosed), string(election.StatusCompleted),
		)),
	)
}

func (req *updateElectionRequest) update() election.ElectionUpdate {
	upd := election.ElectionUpdate{
		Name:        req.Name,
		Description: req.Description,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	}
	if req.Status != nil {
		st := election.Status(*req.Status)
		upd.Status = &st
	}
	return upd
}

type createListRequest struct {
	Name             string `json:"name"`
	Number           *int   `json:"number"`
	PoliticalPartyID string `json:"politicalPartyId"`
}

func (req *createListRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&req.Number, validation.Min(1)),
		validation.Field(&req.PoliticalPartyID, validID),
	)
}

type createCandidateRequest struct {
	PositionID string `json:"positionId"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	DNI        string `json:"dni"`
	PhotoURL   string `json:"photoUrl"`
}

func (req *createCandidateRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.PositionID, validation.Required, validID),
		validation.Field(&req.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&req.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&req.DNI, validation.Match(dniPattern).Error("dni must be 8 digits")),
		validation.Field(&req.PhotoURL, is.URL),
	)
}

type updateCandidateRequest struct {
	FirstName *string `json:"firstName"`
	LastName  *string `json:"lastName"`
	DNI       *string `json:"dni"`
	PhotoURL  *string `json:"photoUrl"`
}

func (req *updateCandidateRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.FirstName, validation.NilOrNotEmpty, validation.Length(1, 100)),
		validation.Field(&req.LastName, validation.NilOrNotEmpty, validation.Length(1, 100)),
		validation.Field(&req.DNI, validation.Match(dniPattern).Error("dni must be 8 digits")),
		validation.Field(&req.PhotoURL, is.URL),
	)
}

type roleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (req *roleRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Name, validation.Required, validation.Length(2, 50)),
	)
}

type updateRoleRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

func (req *updateRoleRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Name, validation.NilOrNotEmpty, validation.Length(2, 50)),
	)
}

type permissionRequest struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

func (req *permissionRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Key, validation.Required, validation.Length(2, 100)),
	)
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (req *rolePermissionsRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Permissions, validation.Required),
	)
}

type userRolesRequest struct {
	Roles []string `json:"roles"`
}

func (req *userRolesRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Roles, validation.Required),
	)
}

type userStatusRequest struct {
	IsActive *bool  `json:"isActive"`
	Reason   string `json:"reason"`
}

func (req *userStatusRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.IsActive, validation.NotNil),
		validation.Field(&req.Reason, validation.Length(0, 500)),
	)
}

type updatePermissionRequest struct {
	Key         *string `json:"key"`
	Description *string `json:"description"`
}

func (req *updatePermissionRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.Key, validation.NilOrNotEmpty, validation.Length(2, 100)),
	)
}

type createUserRequest struct {
	DNI       string   `json:"dni"`
	Password  string   `json:"password"`
	FirstName string   `json:"firstName"`
	LastName  string   `json:"lastName"`
	Phone     string   `json:"phone"`
	Email     string   `json:"email"`
	ChapterID string   `json:"chapterId"`
	Roles     []string `json:"roles"`
}

func (req *createUserRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.DNI, validation.Required, validation.Match(dniPattern).Error("dni must be 8 digits")),
		validation.Field(&req.Password, validation.Required, validation.Length(8, 128)),
		validation.Field(&req.FirstName, validation.Required, validation.Length(1, 100)),
		validation.Field(&req.LastName, validation.Required, validation.Length(1, 100)),
		validation.Field(&req.Phone, validation.Length(1, 20)),
		validation.Field(&req.Email, is.Email),
		validation.Field(&req.ChapterID, validation.Required, validID),
	)
}

func (req *createUserRequest) input() auth.NewUser {
	return auth.NewUser{
		DNI:       req.DNI,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Email:     req.Email,
		ChapterID: req.ChapterID,
		Roles:     req.Roles,
	}
}

type updateUserRequest struct {
	FirstName *string  `json:"firstName"`
	LastName  *string  `json:"lastName"`
	Phone     *string  `json:"phone"`
	Email     *string  `json:"email"`
	ChapterID *string  `json:"chapterId"`
	Password  *string  `json:"password"`
	IsActive  *bool    `json:"isActive"`
	Roles     []string `json:"roles"`
}

func (req *updateUserRequest) Validate() error {
	return validation.ValidateStruct(req,
		validation.Field(&req.FirstName, validation.NilOrNotEmpty, validation.Length(1, 100)),
		validation.Field(&req.LastName, validation.NilOrNotEmpty, validation.Length(1, 100)),
		validation.Field(&req.Phone, validation.Length(1, 20)),
		validation.Field(&req.Email, is.Email),
		validation.Field(&req.ChapterID, validation.NilOrNotEmpty, validID),
		validation.Field(&req.Password, validation.NilOrNotEmpty, validation.Length(8, 128)),
	)
}

func (req *updateUserRequest) update() auth.UserUpdate {
	return auth.UserUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Phone:     req.Phone,
		Email:     req.Email,
		ChapterID: req.ChapterID,
		Password:  req.Password,
		IsActive:  req.IsActive,
		Roles:     req.Roles,
	}
}
