package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"colegio.org/internal/apperr"
	"colegio.org/internal/election"
)

const electionColumns = `e.id, e.name, coalesce(e.description, ''), e.start_date, e.end_date, e.scope, e.status,
	e.association_id, coalesce(e.branch_id, ''), coalesce(e.chapter_id, ''), e.created_at, e.updated_at`

func scanElection(row rowScanner) (election.Election, error) {
	var e election.Election
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.StartDate, &e.EndDate, &e.Scope, &e.Status,
		&e.AssociationID, &e.BranchID, &e.ChapterID, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func queryElections(ctx context.Context, q queryer, query string, args ...any) ([]election.Election, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []election.Election{}
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func electionIDs(es []election.Election) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

// loadPositions fetches positions of every election in ids, ordered by sort order.
func loadPositions(ctx context.Context, q queryer, ids []string) (map[string][]election.Position, error) {
	out := make(map[string][]election.Position, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, `
		select id, election_id, title, sort_order
		from election_positions
		where election_id in (`+placeholders(1, len(ids))+`)
		order by election_id, sort_order
	`, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p election.Position
		if err := rows.Scan(&p.ID, &p.ElectionID, &p.Title, &p.Order); err != nil {
			return nil, err
		}
		out[p.ElectionID] = append(out[p.ElectionID], p)
	}
	return out, rows.Err()
}

// loadLists fetches candidate lists of every election in ids together with
// their candidates and counters.
func loadLists(ctx context.Context, q queryer, ids []string) (map[string][]election.CandidateList, error) {
	out := make(map[string][]election.CandidateList, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, `
		select l.id, l.election_id, l.name, l.number, coalesce(l.political_party_id, ''), coalesce(pp.name, ''), l.created_at
		from candidate_lists l
		left join political_parties pp on pp.id = l.political_party_id
		where l.election_id in (`+placeholders(1, len(ids))+`)
		order by l.election_id, l.number nulls last, l.created_at
	`, stringArgs(ids)...)
	if err != nil {
		return nil, err
	}
	type slot struct {
		electionID string
		i          int
	}
	var listIDs []string
	index := map[string]slot{}
	for rows.Next() {
		l, err := scanList(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		index[l.ID] = slot{l.ElectionID, len(out[l.ElectionID])}
		out[l.ElectionID] = append(out[l.ElectionID], l)
		listIDs = append(listIDs, l.ID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	candidates, err := loadCandidates(ctx, q, listIDs)
	if err != nil {
		return nil, err
	}
	for listID, cs := range candidates {
		if at, ok := index[listID]; ok {
			out[at.electionID][at.i].Candidates = cs
		}
	}
	return out, nil
}

func scanList(row rowScanner) (election.CandidateList, error) {
	var (
		l      election.CandidateList
		number sql.NullInt64
	)
	if err := row.Scan(&l.ID, &l.ElectionID, &l.Name, &number, &l.PoliticalPartyID, &l.PartyName, &l.CreatedAt); err != nil {
		return election.CandidateList{}, err
	}
	l.Number = intPtr(number)
	return l, nil
}

const candidateColumns = `id, list_id, position_id, first_name, last_name, coalesce(dni, ''), coalesce(photo_url, ''), vote_count, created_at`

func scanCandidate(row rowScanner) (election.Candidate, error) {
	var c election.Candidate
	err := row.Scan(&c.ID, &c.ListID, &c.PositionID, &c.FirstName, &c.LastName, &c.DNI, &c.PhotoURL, &c.VoteCount, &c.CreatedAt)
	return c, err
}

func loadCandidates(ctx context.Context, q queryer, listIDs []string) (map[string][]election.Candidate, error) {
	out := make(map[string][]election.Candidate, len(listIDs))
	if len(listIDs) == 0 {
		return out, nil
	}
	rows, err := q.QueryContext(ctx, `
		select `+candidateColumns+`
		from candidates
		where list_id in (`+placeholders(1, len(listIDs))+`)
		order by list_id, created_at
	`, stringArgs(listIDs)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		out[c.ListID] = append(out[c.ListID], c)
	}
	return out, rows.Err()
}

// hydrate attaches positions and, when withLists is set, candidate lists.
func hydrate(ctx context.Context, q queryer, es []election.Election, withLists bool) error {
	ids := electionIDs(es)
	positions, err := loadPositions(ctx, q, ids)
	if err != nil {
		return err
	}
	var lists map[string][]election.CandidateList
	if withLists {
		if lists, err = loadLists(ctx, q, ids); err != nil {
			return err
		}
	}
	for i := range es {
		es[i].Positions = positions[es[i].ID]
		if es[i].Positions == nil {
			es[i].Positions = []election.Position{}
		}
		if withLists {
			es[i].Lists = lists[es[i].ID]
		}
	}
	return nil
}

func voter(ctx context.Context, q queryer, userID string) (election.VoterRef, error) {
	var v election.VoterRef
	err := q.QueryRowContext(ctx, `
		select u.id, coalesce(a.id, ''), coalesce(b.id, ''), coalesce(u.chapter_id, ''), u.is_active, u.deleted_at is not null
		from users u
		left join chapters c on c.id = u.chapter_id
		left join branches b on b.id = c.branch_id
		left join associations a on a.id = b.association_id
		where u.id = $1
	`, userID).Scan(&v.UserID, &v.AssociationID, &v.BranchID, &v.ChapterID, &v.IsActive, &v.Deleted)
	if err != nil {
		return election.VoterRef{}, mapError(err, "user")
	}
	return v, nil
}

func (s *Store) Voter(ctx context.Context, userID string) (election.VoterRef, error) {
	return voter(ctx, s.db, userID)
}

func (s *Store) OpenElections(ctx context.Context, associationID string, now time.Time) ([]election.Election, error) {
	es, err := queryElections(ctx, s.db, `
		select `+electionColumns+`
		from elections e
		where e.association_id = $1 and e.status = 'OPEN' and e.start_date <= $2 and e.end_date >= $2
		order by e.start_date, e.id
	`, associationID, now)
	if err != nil {
		return nil, err
	}
	if err := hydrate(ctx, s.db, es, true); err != nil {
		return nil, err
	}
	return es, nil
}

func (s *Store) VotedPositions(ctx context.Context, userID string, electionIDs []string) (map[string][]string, error) {
	out := map[string][]string{}
	if len(electionIDs) == 0 {
		return out, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		select election_id, position_id
		from votes
		where user_id = $1 and election_id in (`+placeholders(2, len(electionIDs))+`)
		order by election_id, position_id
	`, append([]any{userID}, stringArgs(electionIDs)...)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var eid, pid string
		if err := rows.Scan(&eid, &pid); err != nil {
			return nil, err
		}
		out[eid] = append(out[eid], pid)
	}
	return out, rows.Err()
}

func (s *Store) ResultSnapshot(ctx context.Context, electionID string) (election.Snapshot, error) {
	var snap election.Snapshot
	row := s.db.QueryRowContext(ctx, `
		select `+electionColumns+`, coalesce(a.name, ''), coalesce(b.name, ''), coalesce(c.name, '')
		from elections e
		left join associations a on a.id = e.association_id
		left join branches b on b.id = e.branch_id
		left join chapters c on c.id = e.chapter_id
		where e.id = $1
	`, electionID)
	var e election.Election
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.StartDate, &e.EndDate, &e.Scope, &e.Status,
		&e.AssociationID, &e.BranchID, &e.ChapterID, &e.CreatedAt, &e.UpdatedAt,
		&snap.AssociationName, &snap.BranchName, &snap.ChapterName)
	if err != nil {
		return election.Snapshot{}, mapError(err, "election")
	}
	es := []election.Election{e}
	if err := hydrate(ctx, s.db, es, true); err != nil {
		return election.Snapshot{}, err
	}
	snap.Election = es[0]
	return snap, nil
}

func (s *Store) DueToOpen(ctx context.Context, now time.Time) ([]election.Election, error) {
	return queryElections(ctx, s.db, `
		select `+electionColumns+`
		from elections e
		where e.status = 'DRAFT' and e.start_date <= $1
		order by e.start_date
	`, now)
}

func (s *Store) DueToClose(ctx context.Context, now time.Time) ([]election.Election, error) {
	return queryElections(ctx, s.db, `
		select `+electionColumns+`
		from elections e
		where e.status = 'OPEN' and e.end_date <= $1
		order by e.end_date
	`, now)
}

func (s *Store) TransitionStatus(ctx context.Context, electionID string, from, to election.Status) error {
	res, err := s.db.ExecContext(ctx, `
		update elections set status = $3, updated_at = now()
		where id = $1 and status = $2
	`, electionID, string(from), string(to))
	if err != nil {
		return mapError(err, "election")
	}
	return expectAffected(res, "election")
}

// --- administration ---

func (s *Store) CreateElection(ctx context.Context, e election.Election) (election.Election, error) {
	err := s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if err := tx.QueryRowContext(ctx, `
			insert into elections (id, name, description, start_date, end_date, scope, status, association_id, branch_id, chapter_id)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			returning created_at, updated_at
		`, e.ID, e.Name, nullIfEmpty(e.Description), e.StartDate, e.EndDate, string(e.Scope), string(e.Status),
			e.AssociationID, nullIfEmpty(e.BranchID), nullIfEmpty(e.ChapterID)).Scan(&e.CreatedAt, &e.UpdatedAt); err != nil {
			return mapError(err, "election")
		}
		for _, p := range e.Positions {
			if _, err := tx.ExecContext(ctx, `
				insert into election_positions (id, election_id, title, sort_order)
				values ($1, $2, $3, $4)
			`, p.ID, e.ID, p.Title, p.Order); err != nil {
				return mapError(err, "position")
			}
		}
		return nil
	})
	if err != nil {
		return election.Election{}, err
	}
	return e, nil
}

func (s *Store) ListElections(ctx context.Context) ([]election.Election, error) {
	es, err := queryElections(ctx, s.db, `
		select `+electionColumns+`
		from elections e
		order by e.created_at desc
	`)
	if err != nil {
		return nil, err
	}
	if err := hydrate(ctx, s.db, es, false); err != nil {
		return nil, err
	}
	return es, nil
}

func (s *Store) GetElection(ctx context.Context, electionID string) (election.Election, error) {
	e, err := scanElection(s.db.QueryRowContext(ctx, `
		select `+electionColumns+`
		from elections e
		where e.id = $1
	`, electionID))
	if err != nil {
		return election.Election{}, mapError(err, "election")
	}
	es := []election.Election{e}
	if err := hydrate(ctx, s.db, es, true); err != nil {
		return election.Election{}, err
	}
	return es[0], nil
}

func (s *Store) UpdateElection(ctx context.Context, electionID string, expected election.Status, upd election.ElectionUpdate) (election.Election, error) {
	var b setBuilder
	if upd.Name != nil {
		b.add("name", *upd.Name)
	}
	if upd.Description != nil {
		b.add("description", nullIfEmpty(*upd.Description))
	}
	if upd.StartDate != nil {
		b.add("start_date", *upd.StartDate)
	}
	if upd.EndDate != nil {
		b.add("end_date", *upd.EndDate)
	}
	if upd.Status != nil {
		b.add("status", string(*upd.Status))
	}
	if !b.empty() {
		b.sets = append(b.sets, "updated_at = now()")
		query, args := b.query("elections", "id", electionID)
		args = append(args, string(expected))
		query += fmt.Sprintf(" and status = $%d", len(args))
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return election.Election{}, mapError(err, "election")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return election.Election{}, err
		}
		if n == 0 {
			var status string
			err := s.db.QueryRowContext(ctx, `select status from elections where id = $1`, electionID).Scan(&status)
			if err != nil {
				return election.Election{}, mapError(err, "election")
			}
			return election.Election{}, apperr.Conflict("election status changed to %s, reload and retry", status)
		}
	}
	return s.GetElection(ctx, electionID)
}

func (s *Store) CreateList(ctx context.Context, l election.CandidateList) (election.CandidateList, error) {
	if _, err := s.db.ExecContext(ctx, `
		insert into candidate_lists (id, election_id, name, number, political_party_id)
		values ($1, $2, $3, $4, $5)
	`, l.ID, l.ElectionID, l.Name, nullInt(l.Number), nullIfEmpty(l.PoliticalPartyID)); err != nil {
		return election.CandidateList{}, mapError(err, "candidate list")
	}
	return s.GetList(ctx, l.ID)
}

func (s *Store) GetList(ctx context.Context, listID string) (election.CandidateList, error) {
	l, err := scanList(s.db.QueryRowContext(ctx, `
		select l.id, l.election_id, l.name, l.number, coalesce(l.political_party_id, ''), coalesce(pp.name, ''), l.created_at
		from candidate_lists l
		left join political_parties pp on pp.id = l.political_party_id
		where l.id = $1
	`, listID))
	if err != nil {
		return election.CandidateList{}, mapError(err, "candidate list")
	}
	candidates, err := loadCandidates(ctx, s.db, []string{l.ID})
	if err != nil {
		return election.CandidateList{}, err
	}
	l.Candidates = candidates[l.ID]
	return l, nil
}

func (s *Store) DeleteList(ctx context.Context, listID string) error {
	return s.inTx(ctx, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `delete from candidates where list_id = $1`, listID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `delete from candidate_lists where id = $1`, listID)
		if err != nil {
			return err
		}
		return expectAffected(res, "candidate list")
	})
}

func (s *Store) AddCandidate(ctx context.Context, c election.Candidate) (election.Candidate, error) {
	err := s.db.QueryRowContext(ctx, `
		insert into candidates (id, list_id, position_id, first_name, last_name, dni, photo_url)
		values ($1, $2, $3, $4, $5, $6, $7)
		returning vote_count, created_at
	`, c.ID, c.ListID, c.PositionID, c.FirstName, c.LastName, nullIfEmpty(c.DNI), nullIfEmpty(c.PhotoURL)).Scan(&c.VoteCount, &c.CreatedAt)
	if err != nil {
		if isUnique(err) {
			return election.Candidate{}, apperr.Conflict("this position already has a candidate in this list")
		}
		return election.Candidate{}, mapError(err, "candidate")
	}
	return c, nil
}

func (s *Store) GetCandidate(ctx context.Context, candidateID string) (election.Candidate, error) {
	c, err := scanCandidate(s.db.QueryRowContext(ctx, `select `+candidateColumns+` from candidates where id = $1`, candidateID))
	if err != nil {
		return election.Candidate{}, mapError(err, "candidate")
	}
	return c, nil
}

func (s *Store) UpdateCandidate(ctx context.Context, candidateID string, upd election.CandidateUpdate) (election.Candidate, error) {
	var b setBuilder
	if upd.FirstName != nil {
		b.add("first_name", *upd.FirstName)
	}
	if upd.LastName != nil {
		b.add("last_name", *upd.LastName)
	}
	if upd.DNI != nil {
		b.add("dni", nullIfEmpty(*upd.DNI))
	}
	if upd.PhotoURL != nil {
		b.add("photo_url", nullIfEmpty(*upd.PhotoURL))
	}
	if !b.empty() {
		query, args := b.query("candidates", "id", candidateID)
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return election.Candidate{}, mapError(err, "candidate")
		}
		if err := expectAffected(res, "candidate"); err != nil {
			return election.Candidate{}, err
		}
	}
	return s.GetCandidate(ctx, candidateID)
}

func (s *Store) DeleteCandidate(ctx context.Context, candidateID string) error {
	res, err := s.db.ExecContext(ctx, `delete from candidates where id = $1`, candidateID)
	if err != nil {
		return mapError(err, "candidate")
	}
	return expectAffected(res, "candidate")
}
