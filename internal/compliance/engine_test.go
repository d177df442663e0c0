package compliance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"

	"github.com/iamwavecut/ngwarden/internal/bot"
	"github.com/iamwavecut/ngwarden/internal/bot/bottest"
	"github.com/iamwavecut/ngwarden/internal/db"
	"github.com/iamwavecut/ngwarden/internal/db/dbtest"
	ierrors "github.com/iamwavecut/ngwarden/internal/errors"
)

const testGroupID = -100123

type recordingNotifier struct {
	mu         sync.Mutex
	warnings   int
	first      int
	byMessages []int
	byTime     []int64
	timeUsers  []*api.User
	clearances []int64
}

func (n *recordingNotifier) WarnIncompleteProfile(context.Context, *api.User, []MissingItem) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.warnings++
	return nil
}

func (n *recordingNotifier) WarnFirstMessage(context.Context, *api.User, []MissingItem) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.first++
	return nil
}

func (n *recordingNotifier) NotifyRestrictedByMessages(_ context.Context, _ *api.User, count int, _ []MissingItem) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byMessages = append(n.byMessages, count)
	return nil
}

func (n *recordingNotifier) NotifyRestrictedByTime(_ context.Context, userID int64, user *api.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.byTime = append(n.byTime, userID)
	n.timeUsers = append(n.timeUsers, user)
	return nil
}

func (n *recordingNotifier) NotifyExemptionClearance(_ context.Context, userID int64, _ *api.User) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.clearances = append(n.clearances, userID)
	return nil
}

func (n *recordingNotifier) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.warnings + n.first + len(n.byMessages) + len(n.byTime) + len(n.clearances)
}

type stubResolver struct {
	resolved []int64
	err      error
}

func (r *stubResolver) ResolveByDirectMessage(_ context.Context, pending *db.PendingChallenge) error {
	if r.err != nil {
		return r.err
	}
	r.resolved = append(r.resolved, pending.UserID)
	return nil
}

type fixture struct {
	engine   *Engine
	store    *dbtest.Store
	platform *bottest.Platform
	notifier *recordingNotifier
	resolver *stubResolver
	now      time.Time
}

func newFixture(restrict bool) *fixture {
	f := &fixture{
		store:    dbtest.NewStore(),
		platform: bottest.NewPlatform(),
		notifier: &recordingNotifier{},
		resolver: &stubResolver{},
		now:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	f.engine = NewEngine(Settings{
		GroupID:             testGroupID,
		RestrictFailedUsers: restrict,
		WarningThreshold:    3,
		TimeThreshold:       3 * time.Hour,
	}, f.store, f.platform, f.notifier, f.resolver)
	f.engine.now = func() time.Time { return f.now }
	return f
}

func TestCheckProfile(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	ctx := context.Background()
	f.platform.PhotoCounts[1] = 2

	tests := []struct {
		name    string
		user    *api.User
		exempt  bool
		want    ProfileCheck
		missing []MissingItem
		lookups int
	}{
		{"complete", &api.User{ID: 1, UserName: "one"}, false, ProfileCheck{HasPhoto: true, HasHandle: true}, nil, 1},
		{"no photo no handle", &api.User{ID: 2}, false, ProfileCheck{}, []MissingItem{MissingPhoto, MissingHandle}, 1},
		{"exempt skips lookup", &api.User{ID: 3}, true, ProfileCheck{HasPhoto: true}, []MissingItem{MissingHandle}, 0},
	}
	for _, tt := range tests {
		if tt.exempt {
			if err := f.store.AddExemption(ctx, &db.Exemption{UserID: tt.user.ID}); err != nil {
				t.Fatal(err)
			}
		}
		before := f.platform.PhotoLookups
		got, err := f.engine.profiles.CheckProfile(ctx, tt.user)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: got %+v, want %+v", tt.name, got, tt.want)
		}
		if len(got.MissingItems()) != len(tt.missing) {
			t.Errorf("%s: missing %v, want %v", tt.name, got.MissingItems(), tt.missing)
		}
		for i := range tt.missing {
			if got.MissingItems()[i] != tt.missing[i] {
				t.Errorf("%s: missing %v, want %v", tt.name, got.MissingItems(), tt.missing)
			}
		}
		if lookups := f.platform.PhotoLookups - before; lookups != tt.lookups {
			t.Errorf("%s: %d photo lookups, want %d", tt.name, lookups, tt.lookups)
		}
	}
}

func TestEvaluateMessageCompleteProfileIsNoop(t *testing.T) {
	t.Parallel()

	for _, restrict := range []bool{false, true} {
		f := newFixture(restrict)
		f.platform.PhotoCounts[7] = 1
		user := &api.User{ID: 7, UserName: "seven"}

		for i := 0; i < 5; i++ {
			outcome, err := f.engine.EvaluateMessage(context.Background(), user)
			if err != nil {
				t.Fatal(err)
			}
			if outcome != OutcomeCompliant {
				t.Fatalf("outcome = %s", outcome)
			}
		}
		if n := len(f.store.Records(7, testGroupID)); n != 0 {
			t.Errorf("restrict=%v: %d records created", restrict, n)
		}
		if f.notifier.total() != 0 || len(f.platform.Restrictions) != 0 {
			t.Errorf("restrict=%v: unexpected traffic", restrict)
		}
	}
}

func TestEvaluateMessageWarningOnlyMode(t *testing.T) {
	t.Parallel()

	f := newFixture(false)
	user := &api.User{ID: 8}
	for i := 0; i < 4; i++ {
		outcome, err := f.engine.EvaluateMessage(context.Background(), user)
		if err != nil {
			t.Fatal(err)
		}
		if outcome != OutcomeWarned {
			t.Fatalf("outcome = %s", outcome)
		}
	}
	if f.notifier.warnings != 4 {
		t.Errorf("warnings = %d, want 4", f.notifier.warnings)
	}
	if len(f.store.Records(8, testGroupID)) != 0 || len(f.platform.Restrictions) != 0 {
		t.Error("warning-only mode must not persist or mute")
	}
}

func TestEvaluateMessageProgressiveThreshold(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	user := &api.User{ID: 9, FirstName: "Nine"}
	want := []Outcome{OutcomeFirstWarning, OutcomeCounted, OutcomeRestricted}
	traffic := []int{1, 1, 2}

	for i, expected := range want {
		outcome, err := f.engine.EvaluateMessage(context.Background(), user)
		if err != nil {
			t.Fatal(err)
		}
		if outcome != expected {
			t.Fatalf("message %d: outcome = %s, want %s", i+1, outcome, expected)
		}
		if got := f.notifier.total(); got != traffic[i] {
			t.Fatalf("message %d: %d notifications, want %d", i+1, got, traffic[i])
		}
	}

	if mutes := f.platform.Mutes(); len(mutes) != 1 || mutes[0].UserID != 9 {
		t.Fatalf("mutes = %+v", mutes)
	}
	if f.notifier.first != 1 || len(f.notifier.byMessages) != 1 || f.notifier.byMessages[0] != 3 {
		t.Errorf("notifier = %+v", f.notifier)
	}
	records := f.store.Records(9, testGroupID)
	if len(records) != 1 {
		t.Fatalf("records = %d", len(records))
	}
	r := records[0]
	if r.MessageCount != 3 || !r.IsRestricted || !r.RestrictedByBot || r.Cause != db.CauseMessageThreshold {
		t.Errorf("record = %+v", r)
	}
}

func TestEvaluateMessageStartsNewCycleAfterRestriction(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	user := &api.User{ID: 10}
	for i := 0; i < 4; i++ {
		if _, err := f.engine.EvaluateMessage(context.Background(), user); err != nil {
			t.Fatal(err)
		}
	}
	records := f.store.Records(10, testGroupID)
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[1].MessageCount != 1 || records[1].IsRestricted {
		t.Errorf("second cycle = %+v", records[1])
	}
}

func TestEvaluateMessagePersistFailureIsInconsistentState(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	user := &api.User{ID: 11}
	for i := 0; i < 2; i++ {
		if _, err := f.engine.EvaluateMessage(context.Background(), user); err != nil {
			t.Fatal(err)
		}
	}
	f.store.MarkErr = errors.New("disk full")

	_, err := f.engine.EvaluateMessage(context.Background(), user)
	if !errors.Is(err, ierrors.ErrInconsistentState) {
		t.Fatalf("err = %v, want inconsistent state", err)
	}
	if len(f.platform.Mutes()) != 1 {
		t.Errorf("mute must be issued exactly once")
	}
	if len(f.notifier.byMessages) != 0 {
		t.Errorf("restriction notice sent for unpersisted state")
	}
}

func TestEvaluateMessageRemoteFailureLeavesCycleOpen(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	f.platform.PhotoErr = errors.New("timeout")
	if _, err := f.engine.EvaluateMessage(context.Background(), &api.User{ID: 12}); err == nil {
		t.Fatal("expected error")
	}
	if len(f.store.Records(12, testGroupID)) != 0 || f.notifier.total() != 0 {
		t.Error("photo lookup failure must not change state")
	}
}

func TestSweepExpiredByTime(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	old := f.now.Add(-4 * time.Hour)
	f.store.PutRecord(db.ComplianceRecord{UserID: 20, GroupID: testGroupID, MessageCount: 1, FirstWarnedAt: old, LastActivityAt: old})
	f.store.PutRecord(db.ComplianceRecord{UserID: 21, GroupID: testGroupID, MessageCount: 2, FirstWarnedAt: f.now.Add(-time.Hour), LastActivityAt: f.now})
	f.store.PutRecord(db.ComplianceRecord{UserID: 22, GroupID: testGroupID, MessageCount: 1, FirstWarnedAt: old, IsRestricted: true, RestrictedByBot: true})
	f.platform.SetMembership(20, bot.StatusMember, &api.User{ID: 20, FirstName: "Twenty"})

	report, err := f.engine.SweepExpiredByTime(context.Background(), 3*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if report.Examined != 1 || report.Restricted != 1 {
		t.Fatalf("report = %+v", report)
	}
	if mutes := f.platform.Mutes(); len(mutes) != 1 || mutes[0].UserID != 20 {
		t.Fatalf("mutes = %+v", mutes)
	}
	if len(f.notifier.byTime) != 1 || f.notifier.timeUsers[0].FirstName != "Twenty" {
		t.Errorf("time notices = %+v", f.notifier.byTime)
	}
	r := f.store.Records(20, testGroupID)[0]
	if !r.IsRestricted || !r.RestrictedByBot || r.Cause != db.CauseTimeThreshold {
		t.Errorf("record = %+v", r)
	}

	report, err = f.engine.SweepExpiredByTime(context.Background(), 3*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if report.Examined != 0 || len(f.platform.Mutes()) != 1 {
		t.Errorf("second sweep restricted again: %+v", report)
	}
}

func TestSweepRetiresBannedUser(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	old := f.now.Add(-4 * time.Hour)
	f.store.PutRecord(db.ComplianceRecord{UserID: 30, GroupID: testGroupID, MessageCount: 1, FirstWarnedAt: old, LastActivityAt: old})
	f.platform.SetMembership(30, bot.StatusKicked, nil)

	report, err := f.engine.SweepExpiredByTime(context.Background(), 3*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if report.Removed != 1 {
		t.Errorf("report = %+v", report)
	}
	if len(f.platform.Restrictions) != 0 || f.notifier.total() != 0 {
		t.Error("banned user must not be muted or mentioned")
	}
	r := f.store.Records(30, testGroupID)[0]
	if r.RestrictedByBot || r.Cause != db.CauseMemberRemoved {
		t.Errorf("record = %+v", r)
	}
}

func TestSweepIsolatesFailures(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	old := f.now.Add(-4 * time.Hour)
	f.store.PutRecord(db.ComplianceRecord{UserID: 40, GroupID: testGroupID, MessageCount: 1, FirstWarnedAt: old})
	f.store.PutRecord(db.ComplianceRecord{UserID: 41, GroupID: testGroupID, MessageCount: 1, FirstWarnedAt: old.Add(time.Minute)})
	f.platform.RestrictErr = errors.New("not enough rights")
	f.platform.MembershipErr = errors.New("user not found")

	report, err := f.engine.SweepExpiredByTime(context.Background(), 3*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if report.Examined != 2 || report.Failed != 2 {
		t.Errorf("report = %+v", report)
	}
	for _, id := range []int64{40, 41} {
		if r := f.store.Records(id, testGroupID)[0]; r.IsRestricted {
			t.Errorf("user %d closed despite failed mute", id)
		}
	}
}

func TestSweepFallsBackToIDMention(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	old := f.now.Add(-4 * time.Hour)
	f.store.PutRecord(db.ComplianceRecord{UserID: 42, GroupID: testGroupID, MessageCount: 1, FirstWarnedAt: old})
	f.platform.MembershipErr = errors.New("user not found")

	if _, err := f.engine.SweepExpiredByTime(context.Background(), 3*time.Hour); err != nil {
		t.Fatal(err)
	}
	if len(f.notifier.byTime) != 1 || f.notifier.byTime[0] != 42 || f.notifier.timeUsers[0] != nil {
		t.Errorf("time notices = %+v %+v", f.notifier.byTime, f.notifier.timeUsers)
	}
}

func TestReconcileOnDirectMessage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	restricted := func(f *fixture, userID int64) {
		f.store.PutRecord(db.ComplianceRecord{
			UserID: userID, GroupID: testGroupID, MessageCount: 3,
			FirstWarnedAt: f.now, IsRestricted: true, RestrictedByBot: true, Cause: db.CauseMessageThreshold,
		})
	}

	t.Run("not a member", func(t *testing.T) {
		t.Parallel()
		f := newFixture(true)
		f.platform.SetMembership(50, bot.StatusLeft, nil)
		got, err := f.engine.ReconcileOnDirectMessage(ctx, &api.User{ID: 50})
		if err != nil || got.Resolution != ResolutionNotMember {
			t.Fatalf("got %+v, %v", got, err)
		}
	})

	t.Run("pending challenge wins over incomplete profile", func(t *testing.T) {
		t.Parallel()
		f := newFixture(true)
		f.platform.SetMembership(51, bot.StatusRestricted, nil)
		if err := f.store.UpsertPendingChallenge(ctx, &db.PendingChallenge{UserID: 51, GroupID: testGroupID}); err != nil {
			t.Fatal(err)
		}
		got, err := f.engine.ReconcileOnDirectMessage(ctx, &api.User{ID: 51})
		if err != nil || got.Resolution != ResolutionChallengeCleared {
			t.Fatalf("got %+v, %v", got, err)
		}
		if f.platform.PhotoLookups != 0 {
			t.Error("profile must not be checked on the challenge path")
		}
		if len(f.resolver.resolved) != 1 || f.resolver.resolved[0] != 51 {
			t.Errorf("resolved = %v", f.resolver.resolved)
		}
	})

	t.Run("challenge expired meanwhile falls through to the restriction", func(t *testing.T) {
		t.Parallel()
		f := newFixture(true)
		f.resolver.err = db.ErrNotFound
		f.platform.PhotoCounts[58] = 1
		f.platform.SetMembership(58, bot.StatusRestricted, nil)
		if err := f.store.UpsertPendingChallenge(ctx, &db.PendingChallenge{UserID: 58, GroupID: testGroupID}); err != nil {
			t.Fatal(err)
		}
		f.store.PutRecord(db.ComplianceRecord{
			UserID: 58, GroupID: testGroupID, MessageCount: 1,
			FirstWarnedAt: f.now, IsRestricted: true, RestrictedByBot: true, Cause: db.CauseChallengeTimeout,
		})
		got, err := f.engine.ReconcileOnDirectMessage(ctx, &api.User{ID: 58, UserName: "u58"})
		if err != nil || got.Resolution != ResolutionLifted {
			t.Fatalf("got %+v, %v", got, err)
		}
	})

	t.Run("challenge resolution failure is reported", func(t *testing.T) {
		t.Parallel()
		f := newFixture(true)
		f.resolver.err = errors.New("flood wait")
		f.platform.SetMembership(59, bot.StatusRestricted, nil)
		if err := f.store.UpsertPendingChallenge(ctx, &db.PendingChallenge{UserID: 59, GroupID: testGroupID}); err != nil {
			t.Fatal(err)
		}
		if _, err := f.engine.ReconcileOnDirectMessage(ctx, &api.User{ID: 59}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("incomplete profile", func(t *testing.T) {
		t.Parallel()
		f := newFixture(true)
		f.platform.SetMembership(52, bot.StatusRestricted, nil)
		restricted(f, 52)
		got, err := f.engine.ReconcileOnDirectMessage(ctx, &api.User{ID: 52, UserName: "fifty_two"})
		if err != nil || got.Resolution != ResolutionIncompleteProfile {
			t.Fatalf("got %+v, %v", got, err)
		}
		if len(got.Missing) != 1 || got.Missing[0] != MissingPhoto {
			t.Errorf("missing = %v", got.Missing)
		}
		if len(f.platform.Restrictions) != 0 {
			t.Error("no state change expected")
		}
	})

	t.Run("nothing to lift", func(t *testing.T) {
		t.Parallel()
		f := newFixture(true)
		f.platform.PhotoCounts[53] = 1
		got, err := f.engine.ReconcileOnDirectMessage(ctx, &api.User{ID: 53, UserName: "u53"})
		if err != nil || got.Resolution != ResolutionNothingToLift {
			t.Fatalf("got %+v, %v", got, err)
		}
	})

	t.Run("already lifted remotely", func(t *testing.T) {
		t.Parallel()
		f := newFixture(true)
		f.platform.PhotoCounts[54] = 1
		restricted(f, 54)
		got, err := f.engine.ReconcileOnDirectMessage(ctx, &api.User{ID: 54, UserName: "u54"})
		if err != nil || got.Resolution != ResolutionAlreadyLifted {
			t.Fatalf("got %+v, %v", got, err)
		}
		if len(f.platform.Restrictions) != 0 {
			t.Error("no remote call expected")
		}
		if f.store.Records(54, testGroupID)[0].RestrictedByBot {
			t.Error("flag not cleared")
		}
	})

	t.Run("lifted", func(t *testing.T) {
		t.Parallel()
		f := newFixture(true)
		f.platform.PhotoCounts[55] = 1
		f.platform.SetMembership(55, bot.StatusRestricted, nil)
		restricted(f, 55)
		got, err := f.engine.ReconcileOnDirectMessage(ctx, &api.User{ID: 55, UserName: "u55"})
		if err != nil || got.Resolution != ResolutionLifted {
			t.Fatalf("got %+v, %v", got, err)
		}
		if unmutes := f.platform.Unmutes(); len(unmutes) != 1 || unmutes[0].UserID != 55 {
			t.Errorf("unmutes = %+v", unmutes)
		}
		if f.store.Records(55, testGroupID)[0].RestrictedByBot {
			t.Error("flag not cleared")
		}
	})

	t.Run("restriction applied by an admin is never lifted", func(t *testing.T) {
		t.Parallel()
		f := newFixture(true)
		f.platform.PhotoCounts[56] = 1
		f.platform.SetMembership(56, bot.StatusRestricted, nil)
		f.store.PutRecord(db.ComplianceRecord{UserID: 56, GroupID: testGroupID, MessageCount: 1, IsRestricted: true, Cause: db.CauseAdminManual})
		got, err := f.engine.ReconcileOnDirectMessage(ctx, &api.User{ID: 56, UserName: "u56"})
		if err != nil || got.Resolution != ResolutionNothingToLift {
			t.Fatalf("got %+v, %v", got, err)
		}
	})

	t.Run("unmute failure is reported", func(t *testing.T) {
		t.Parallel()
		f := newFixture(true)
		f.platform.PhotoCounts[57] = 1
		f.platform.SetMembership(57, bot.StatusRestricted, nil)
		restricted(f, 57)
		f.platform.RestrictErr = errors.New("not enough rights")
		if _, err := f.engine.ReconcileOnDirectMessage(ctx, &api.User{ID: 57, UserName: "u57"}); err == nil {
			t.Fatal("expected error")
		}
		if !f.store.Records(57, testGroupID)[0].RestrictedByBot {
			t.Error("flag cleared despite failed unmute")
		}
	})
}

func TestGrantExemption(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	ctx := context.Background()
	f.store.PutRecord(db.ComplianceRecord{UserID: 60, GroupID: testGroupID, MessageCount: 3, IsRestricted: true, RestrictedByBot: true})
	f.store.PutRecord(db.ComplianceRecord{UserID: 60, GroupID: testGroupID, MessageCount: 1})

	cleared, err := f.engine.GrantExemption(ctx, 60, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if cleared != 2 {
		t.Errorf("cleared = %d, want 2", cleared)
	}
	if len(f.store.Records(60, testGroupID)) != 0 {
		t.Error("records not deleted")
	}
	if len(f.notifier.clearances) != 1 {
		t.Errorf("clearances = %v", f.notifier.clearances)
	}
	if len(f.platform.Unmutes()) != 1 {
		t.Error("grant must unmute")
	}

	_, err = f.engine.GrantExemption(ctx, 60, 2, "again")
	if !ierrors.IsDuplicate(err) {
		t.Fatalf("second grant err = %v, want duplicate", err)
	}
	exemption, err := f.store.GetExemption(ctx, 60)
	if err != nil {
		t.Fatal(err)
	}
	if exemption.GrantedBy != 1 {
		t.Errorf("first grant overwritten: %+v", exemption)
	}
}

func TestGrantExemptionWithoutHistoryIsSilent(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	f.platform.RestrictErr = errors.New("user is not restricted")
	cleared, err := f.engine.GrantExemption(context.Background(), 61, 1, "")
	if err != nil {
		t.Fatal(err)
	}
	if cleared != 0 || len(f.notifier.clearances) != 0 {
		t.Errorf("cleared = %d, notices = %v", cleared, f.notifier.clearances)
	}
}

func TestRevokeExemption(t *testing.T) {
	t.Parallel()

	f := newFixture(true)
	ctx := context.Background()
	if err := f.engine.RevokeExemption(ctx, 70); !ierrors.IsNotFound(err) {
		t.Fatalf("err = %v, want not found", err)
	}
	if _, err := f.engine.GrantExemption(ctx, 70, 1, ""); err != nil {
		t.Fatal(err)
	}
	if err := f.engine.RevokeExemption(ctx, 70); err != nil {
		t.Fatal(err)
	}
	if exempt, _ := f.store.IsExempt(ctx, 70); exempt {
		t.Error("still exempt")
	}
}
