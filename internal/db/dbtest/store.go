// Package dbtest provides an in-memory db.Client with the same per-key
// semantics as the sqlite store.
package dbtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pborman/uuid"

	"github.com/iamwavecut/ngwarden/internal/db"
)

type Store struct {
	mu         sync.Mutex
	records    []*db.ComplianceRecord
	exemptions map[int64]db.Exemption
	challenges map[[2]int64]db.PendingChallenge

	// MarkErr, when set, fails MarkRestricted and EnsureRestricted.
	MarkErr error
}

var _ db.Client = (*Store)(nil)

func NewStore() *Store {
	return &Store{
		exemptions: map[int64]db.Exemption{},
		challenges: map[[2]int64]db.PendingChallenge{},
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) active(userID, groupID int64) *db.ComplianceRecord {
	for _, r := range s.records {
		if r.UserID == userID && r.GroupID == groupID && !r.IsRestricted {
			return r
		}
	}
	return nil
}

func (s *Store) TrackViolation(_ context.Context, userID, groupID int64, at time.Time) (*db.ComplianceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := s.active(userID, groupID)
	if r == nil {
		r = &db.ComplianceRecord{
			ID:             uuid.New(),
			UserID:         userID,
			GroupID:        groupID,
			MessageCount:   1,
			FirstWarnedAt:  at,
			LastActivityAt: at,
		}
		s.records = append(s.records, r)
		out := *r
		return &out, nil
	}
	r.MessageCount++
	r.LastActivityAt = at
	out := *r
	return &out, nil
}

func (s *Store) MarkRestricted(_ context.Context, recordID string, cause db.RestrictionCause, at time.Time) (*db.ComplianceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.MarkErr != nil {
		return nil, s.MarkErr
	}
	for _, r := range s.records {
		if r.ID == recordID && !r.IsRestricted {
			r.IsRestricted = true
			r.RestrictedByBot = cause.ByBot()
			r.Cause = cause
			r.LastActivityAt = at
			out := *r
			return &out, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *Store) EnsureRestricted(_ context.Context, userID, groupID int64, cause db.RestrictionCause, at time.Time) (*db.ComplianceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.MarkErr != nil {
		return nil, s.MarkErr
	}
	r := s.active(userID, groupID)
	if r == nil {
		r = &db.ComplianceRecord{
			ID:            uuid.New(),
			UserID:        userID,
			GroupID:       groupID,
			MessageCount:  1,
			FirstWarnedAt: at,
		}
		s.records = append(s.records, r)
	}
	r.IsRestricted = true
	r.RestrictedByBot = cause.ByBot()
	r.Cause = cause
	r.LastActivityAt = at
	out := *r
	return &out, nil
}

func (s *Store) GetActiveRecord(_ context.Context, userID, groupID int64) (*db.ComplianceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r := s.active(userID, groupID); r != nil {
		out := *r
		return &out, nil
	}
	return nil, db.ErrNotFound
}

func (s *Store) GetBotRestriction(_ context.Context, userID, groupID int64) (*db.ComplianceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *db.ComplianceRecord
	for _, r := range s.records {
		if r.UserID == userID && r.GroupID == groupID && r.IsRestricted && r.RestrictedByBot {
			if found == nil || r.LastActivityAt.After(found.LastActivityAt) {
				found = r
			}
		}
	}
	if found == nil {
		return nil, db.ErrNotFound
	}
	out := *found
	return &out, nil
}

func (s *Store) ClearBotRestriction(_ context.Context, userID, groupID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, r := range s.records {
		if r.UserID == userID && r.GroupID == groupID && r.IsRestricted && r.RestrictedByBot {
			r.RestrictedByBot = false
			n++
		}
	}
	return n, nil
}

func (s *Store) ListExpiredActive(_ context.Context, cutoff time.Time) ([]*db.ComplianceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*db.ComplianceRecord
	for _, r := range s.records {
		if !r.IsRestricted && !r.FirstWarnedAt.After(cutoff) {
			c := *r
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstWarnedAt.Before(out[j].FirstWarnedAt) })
	return out, nil
}

func (s *Store) DeleteRecords(_ context.Context, userID, groupID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var n int64
	for _, r := range s.records {
		if r.UserID == userID && r.GroupID == groupID {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return n, nil
}

// Records returns copies of every stored compliance record for the user.
func (s *Store) Records(userID, groupID int64) []db.ComplianceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []db.ComplianceRecord
	for _, r := range s.records {
		if r.UserID == userID && r.GroupID == groupID {
			out = append(out, *r)
		}
	}
	return out
}

// PutRecord stores a copy of r as is, for arranging test state.
func (s *Store) PutRecord(r db.ComplianceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.New()
	}
	s.records = append(s.records, &r)
}

func (s *Store) AddExemption(_ context.Context, exemption *db.Exemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exemptions[exemption.UserID]; ok {
		return db.ErrDuplicate
	}
	s.exemptions[exemption.UserID] = *exemption
	return nil
}

func (s *Store) RemoveExemption(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.exemptions[userID]; !ok {
		return db.ErrNotFound
	}
	delete(s.exemptions, userID)
	return nil
}

func (s *Store) GetExemption(_ context.Context, userID int64) (*db.Exemption, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.exemptions[userID]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &e, nil
}

func (s *Store) IsExempt(_ context.Context, userID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.exemptions[userID]
	return ok, nil
}

func (s *Store) UpsertPendingChallenge(_ context.Context, challenge *db.PendingChallenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.challenges[[2]int64{challenge.UserID, challenge.GroupID}] = *challenge
	return nil
}

func (s *Store) GetPendingChallenge(_ context.Context, userID, groupID int64) (*db.PendingChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[[2]int64{userID, groupID}]
	if !ok {
		return nil, db.ErrNotFound
	}
	return &c, nil
}

func (s *Store) TakePendingChallenge(_ context.Context, userID, groupID int64) (*db.PendingChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := [2]int64{userID, groupID}
	c, ok := s.challenges[key]
	if !ok {
		return nil, db.ErrNotFound
	}
	delete(s.challenges, key)
	return &c, nil
}

func (s *Store) ListPendingChallenges(context.Context) ([]*db.PendingChallenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*db.PendingChallenge, 0, len(s.challenges))
	for _, c := range s.challenges {
		c := c
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
