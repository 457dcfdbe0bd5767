// Package padron imports the member registry ("padrón") maintained by each chapter.
package padron

import (
	"context"
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"colegio.org/internal/apperr"
	"colegio.org/internal/audit"
	"colegio.org/internal/auth"
	"colegio.org/internal/ids"
	"colegio.org/internal/mail"
)

const (
	maxSkippedDetails = 10
	tempPasswordLen   = 12
	placeholderName   = "Pendiente"
)

// Actor is the organizational position of the user running an import.
type Actor struct {
	ChapterID   string
	ChapterName string
	BranchName  string
}

// Store persists registry members.
type Store interface {
	ImportActor(ctx context.Context, userID string) (Actor, error)
	// FindChapter resolves a chapter by branch and chapter name, case-insensitively.
	FindChapter(ctx context.Context, branchName, chapterName string) (string, error)
	MemberByDNI(ctx context.Context, dni string) (auth.User, error)
	// UpdateMember overwrites the member and clears deleted_at. When revokeSessions
	// is set the member's sessions are deleted in the same transaction.
	UpdateMember(ctx context.Context, u auth.User, revokeSessions bool) error
	// CreateMember inserts the member and grants role. Unique collisions are apperr.ErrConflict.
	CreateMember(ctx context.Context, u auth.User, role string) error
}

type SkippedDetail struct {
	DNI    string `json:"dni,omitempty"`
	Reason string `json:"reason"`
}

type ImportResult struct {
	Created        int             `json:"created"`
	Updated        int             `json:"updated"`
	Disabled       int             `json:"disabled"`
	Skipped        int             `json:"skipped"`
	Rejected       []string        `json:"rejected"`
	Message        string          `json:"message,omitempty"`
	SkippedDetails []SkippedDetail `json:"skippedDetails"`
}

func (r *ImportResult) skip(dni, reason string) {
	r.Skipped++
	if len(r.SkippedDetails) < maxSkippedDetails {
		r.SkippedDetails = append(r.SkippedDetails, SkippedDetail{DNI: dni, Reason: reason})
	}
}

// Auditor records import events.
type Auditor interface {
	Log(ctx context.Context, action, entity, entityID string, e audit.Entry)
}

type Importer struct {
	store        Store
	mailer       mail.Mailer
	auditor      Auditor
	logger       *zap.Logger
	hash         func(string) (string, error)
	tempPassword func() (string, error)
	now          func() time.Time
}

func NewImporter(store Store, mailer mail.Mailer, auditor Auditor, logger *zap.Logger) (*Importer, error) {
	if store == nil {
		return nil, errors.New("padron store is required")
	}
	if mailer == nil {
		mailer = mail.Disabled{}
	}
	if auditor == nil {
		auditor = audit.NewRecorder(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{
		store:        store,
		mailer:       mailer,
		auditor:      auditor,
		logger:       logger,
		hash:         auth.HashPassword,
		tempPassword: numericPassword,
		now:          time.Now,
	}, nil
}

// Import applies rows on behalf of actor. A SystemAdmin may target any
// chapter; everyone else is confined to their own branch and chapter.
func (im *Importer) Import(ctx context.Context, actor auth.Principal, rows []Row) (ImportResult, error) {
	if len(rows) == 0 {
		return ImportResult{}, apperr.BadRequest("no rows found in file")
	}
	if len(rows) > MaxRows {
		return ImportResult{}, apperr.BadRequest("file exceeds %d rows", MaxRows)
	}
	self, err := im.store.ImportActor(ctx, actor.User.ID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return ImportResult{}, apperr.BadRequest("admin user not found")
		}
		return ImportResult{}, err
	}
	systemAdmin := actor.HasRole(auth.RoleSystemAdmin)
	ownBranch := strings.ToLower(strings.TrimSpace(self.BranchName))
	ownChapter := strings.ToLower(strings.TrimSpace(self.ChapterName))

	res := ImportResult{Rejected: []string{}, SkippedDetails: []SkippedDetail{}}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		dni := strings.TrimSpace(row.DNI)
		if !validDNI(dni) {
			res.skip(row.DNI, "DNI inválido")
			continue
		}
		row.DNI = dni
		branch := strings.ToLower(strings.TrimSpace(row.BranchName))
		chapter := strings.ToLower(strings.TrimSpace(row.ChapterName))
		if branch == "" || chapter == "" {
			res.skip(dni, "Falta sede o capítulo")
			continue
		}

		var chapterID string
		if systemAdmin {
			chapterID, err = im.store.FindChapter(ctx, row.BranchName, row.ChapterName)
			if errors.Is(err, apperr.ErrNotFound) {
				res.skip(dni, "No existe la sede o capítulo")
				continue
			}
			if err != nil {
				return res, err
			}
		} else {
			if branch != ownBranch || chapter != ownChapter {
				res.Rejected = append(res.Rejected, row.label("Capítulo fuera de tu alcance"))
				continue
			}
			chapterID = self.ChapterID
		}

		if row.IsPaidUp == nil {
			res.skip(dni, "Falta el estado de pagos al día")
			continue
		}
		if err := im.applyRow(ctx, &res, row, chapterID, *row.IsPaidUp); err != nil {
			return res, err
		}
	}

	if len(res.Rejected) > 0 {
		res.Message = "Estos usuarios no pudieron registrarse porque sus capítulos no te corresponden: " +
			strings.Join(res.Rejected, ", ")
	}
	im.auditor.Log(ctx, "PADRON_IMPORT", "Padron", actor.User.ID, audit.Entry{
		UserID: actor.User.ID,
		Metadata: map[string]any{
			"created":  res.Created,
			"updated":  res.Updated,
			"disabled": res.Disabled,
			"skipped":  res.Skipped,
			"rejected": len(res.Rejected),
		},
	})
	return res, nil
}

func (im *Importer) applyRow(ctx context.Context, res *ImportResult, row Row, chapterID string, active bool) error {
	existing, err := im.store.MemberByDNI(ctx, row.DNI)
	switch {
	case err == nil:
		return im.updateMember(ctx, res, row, existing, chapterID, active)
	case errors.Is(err, apperr.ErrNotFound):
		return im.createMember(ctx, res, row, chapterID, active)
	default:
		return err
	}
}

func (im *Importer) updateMember(ctx context.Context, res *ImportResult, row Row, existing auth.User, chapterID string, active bool) error {
	wasActive := existing.IsActive
	u := existing
	u.FirstName = orDefault(row.FirstName, existing.FirstName)
	u.LastName = orDefault(row.LastName, existing.LastName)
	u.Email = orDefault(row.Email, existing.Email)
	u.Phone = orDefault(row.Phone, existing.Phone)
	u.ChapterID = orDefault(chapterID, existing.ChapterID)
	u.IsActive = active
	u.DeletedAt = nil
	u.UpdatedAt = im.now().UTC()
	if active {
		u.StatusReason = ""
	}

	revoke := wasActive && !active
	if err := im.store.UpdateMember(ctx, u, revoke); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			res.skip(row.DNI, "Correo o teléfono duplicado")
			return nil
		}
		return err
	}
	res.Updated++
	if revoke {
		res.Disabled++
	}
	if wasActive != active && u.Email != "" {
		if err := im.mailer.SendAccountStatusChange(ctx, mail.AccountStatusChangeMail{
			To:       u.Email,
			FullName: displayName(u),
			IsActive: active,
		}); err != nil {
			im.logger.Warn("status change mail failed", zap.String("dni", row.DNI), zap.Error(err))
		}
	}
	return nil
}

func (im *Importer) createMember(ctx context.Context, res *ImportResult, row Row, chapterID string, active bool) error {
	temp, err := im.tempPassword()
	if err != nil {
		return err
	}
	hash, err := im.hash(temp)
	if err != nil {
		return err
	}
	now := im.now().UTC()
	u := auth.User{
		ID:           ids.New(),
		DNI:          row.DNI,
		PasswordHash: hash,
		FirstName:    orDefault(row.FirstName, placeholderName),
		LastName:     orDefault(row.LastName, placeholderName),
		Email:        row.Email,
		Phone:        row.Phone,
		ChapterID:    chapterID,
		IsActive:     active,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := im.store.CreateMember(ctx, u, auth.RoleMember); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			res.skip(row.DNI, "Correo o teléfono duplicado")
			return nil
		}
		return err
	}
	res.Created++
	if !active {
		res.Disabled++
	}
	if row.Email != "" {
		if err := im.mailer.SendAccountStatus(ctx, mail.AccountStatusMail{
			To:           row.Email,
			FullName:     displayName(u),
			DNI:          row.DNI,
			IsActive:     active,
			TempPassword: temp,
		}); err != nil {
			im.logger.Warn("account mail failed", zap.String("dni", row.DNI), zap.Error(err))
		}
	}
	return nil
}

func validDNI(dni string) bool {
	if len(dni) != 8 {
		return false
	}
	for _, r := range dni {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func orDefault(v, def string) string {
	if v = strings.TrimSpace(v); v != "" {
		return v
	}
	return def
}

func displayName(u auth.User) string {
	if n := u.FullName(); n != "" {
		return n
	}
	return "Colegiado"
}

// numericPassword returns tempPasswordLen random decimal digits.
func numericPassword() (string, error) {
	var b strings.Builder
	ten := big.NewInt(10)
	for i := 0; i < tempPasswordLen; i++ {
		d, err := rand.Int(rand.Reader, ten)
		if err != nil {
			return "", err
		}
		b.WriteByte(byte('0' + d.Int64()))
	}
	return b.String(), nil
}
