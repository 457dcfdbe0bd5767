package election

// ScopeRef identifies the organizational unit an election targets.
type ScopeRef struct {
	Scope         Scope
	AssociationID string
	BranchID      string
	ChapterID     string
}

// Eligible is the single scope predicate shared by listing and casting.
// The voter must belong to the election's association; BRANCH and CHAPTER
// scopes further require a matching branch or chapter.
func Eligible(e ScopeRef, v VoterRef) bool {
	if e.AssociationID == "" || e.AssociationID != v.AssociationID {
		return false
	}
	switch e.Scope {
	case ScopeAssociation:
		return true
	case ScopeBranch:
		return e.BranchID != "" && e.BranchID == v.BranchID
	case ScopeChapter:
		return e.ChapterID != "" && e.ChapterID == v.ChapterID
	default:
		return false
	}
}
