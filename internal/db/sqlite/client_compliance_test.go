package sqlite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iamwavecut/ngwarden/internal/db"
)

func TestTrackViolationCountsWithinOneActiveRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	start := time.Now().Add(-time.Minute).Truncate(time.Second)
	first, err := client.TrackViolation(ctx, 10, -100, start)
	if err != nil {
		t.Fatalf("track first: %v", err)
	}
	if first.MessageCount != 1 || first.ID == "" || first.IsRestricted {
		t.Fatalf("unexpected first record: %#v", first)
	}

	second, err := client.TrackViolation(ctx, 10, -100, start.Add(30*time.Second))
	if err != nil {
		t.Fatalf("track second: %v", err)
	}
	if second.ID != first.ID || second.MessageCount != 2 {
		t.Fatalf("expected same record with count 2, got %#v", second)
	}
	if !second.FirstWarnedAt.Equal(start) {
		t.Fatalf("first_warned_at moved: %v", second.FirstWarnedAt)
	}

	active, err := client.GetActiveRecord(ctx, 10, -100)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.MessageCount != 2 {
		t.Fatalf("expected persisted count 2, got %d", active.MessageCount)
	}
}

func TestTrackViolationIsAtomicUnderConcurrency(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.TrackViolation(ctx, 5, -1, time.Now()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("track violation: %v", err)
	}

	active, err := client.GetActiveRecord(ctx, 5, -1)
	if err != nil {
		t.Fatalf("get active: %v", err)
	}
	if active.MessageCount != workers {
		t.Fatalf("expected count %d, got %d", workers, active.MessageCount)
	}
}

func TestMarkRestrictedClosesCycleOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	record, err := client.TrackViolation(ctx, 1, -2, time.Now())
	if err != nil {
		t.Fatalf("track: %v", err)
	}

	closed, err := client.MarkRestricted(ctx, record.ID, db.CauseMessageThreshold, time.Now())
	if err != nil {
		t.Fatalf("mark restricted: %v", err)
	}
	if !closed.IsRestricted || !closed.RestrictedByBot || closed.Cause != db.CauseMessageThreshold {
		t.Fatalf("unexpected closed record: %#v", closed)
	}

	if _, err := client.MarkRestricted(ctx, record.ID, db.CauseTimeThreshold, time.Now()); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for second transition, got %v", err)
	}
	if _, err := client.GetActiveRecord(ctx, 1, -2); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected no active record, got %v", err)
	}

	next, err := client.TrackViolation(ctx, 1, -2, time.Now())
	if err != nil {
		t.Fatalf("track after restriction: %v", err)
	}
	if next.ID == record.ID || next.MessageCount != 1 {
		t.Fatalf("expected a fresh cycle, got %#v", next)
	}
}

func TestMarkRestrictedMemberRemovedIsNotBotOwned(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	record, err := client.TrackViolation(ctx, 3, -4, time.Now())
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := client.MarkRestricted(ctx, record.ID, db.CauseMemberRemoved, time.Now()); err != nil {
		t.Fatalf("mark restricted: %v", err)
	}
	if _, err := client.GetBotRestriction(ctx, 3, -4); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected no bot restriction, got %v", err)
	}
}

func TestEnsureRestrictedCreatesOrClosesRecord(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	created, err := client.EnsureRestricted(ctx, 8, -9, db.CauseChallengeTimeout, time.Now())
	if err != nil {
		t.Fatalf("ensure restricted without record: %v", err)
	}
	if !created.IsRestricted || !created.RestrictedByBot || created.MessageCount != 1 {
		t.Fatalf("unexpected created record: %#v", created)
	}

	active, err := client.TrackViolation(ctx, 8, -9, time.Now())
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	closed, err := client.EnsureRestricted(ctx, 8, -9, db.CauseChallengeTimeout, time.Now())
	if err != nil {
		t.Fatalf("ensure restricted with record: %v", err)
	}
	if closed.ID != active.ID || !closed.IsRestricted {
		t.Fatalf("expected active record to be closed, got %#v", closed)
	}

	bot, err := client.GetBotRestriction(ctx, 8, -9)
	if err != nil {
		t.Fatalf("get bot restriction: %v", err)
	}
	if bot.Cause != db.CauseChallengeTimeout {
		t.Fatalf("unexpected cause %q", bot.Cause)
	}

	n, err := client.ClearBotRestriction(ctx, 8, -9)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cleared rows, got %d", n)
	}
	if _, err := client.GetBotRestriction(ctx, 8, -9); !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after clear, got %v", err)
	}
}

func TestListExpiredActiveFiltersByCutoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	now := time.Now().Truncate(time.Second)
	if _, err := client.TrackViolation(ctx, 1, -1, now.Add(-4*time.Hour)); err != nil {
		t.Fatalf("track old: %v", err)
	}
	if _, err := client.TrackViolation(ctx, 2, -1, now.Add(-time.Minute)); err != nil {
		t.Fatalf("track fresh: %v", err)
	}
	closed, err := client.TrackViolation(ctx, 3, -1, now.Add(-5*time.Hour))
	if err != nil {
		t.Fatalf("track closed: %v", err)
	}
	if _, err := client.MarkRestricted(ctx, closed.ID, db.CauseMessageThreshold, now); err != nil {
		t.Fatalf("mark closed: %v", err)
	}

	expired, err := client.ListExpiredActive(ctx, now.Add(-3*time.Hour))
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].UserID != 1 {
		t.Fatalf("unexpected expired records: %#v", expired)
	}
}

func TestDeleteRecordsRemovesEveryCycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := newTestClient(t)

	record, err := client.TrackViolation(ctx, 6, -6, time.Now())
	if err != nil {
		t.Fatalf("track: %v", err)
	}
	if _, err := client.MarkRestricted(ctx, record.ID, db.CauseTimeThreshold, time.Now()); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if _, err := client.TrackViolation(ctx, 6, -6, time.Now()); err != nil {
		t.Fatalf("track again: %v", err)
	}

	n, err := client.DeleteRecords(ctx, 6, -6)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deleted rows, got %d", n)
	}
}
