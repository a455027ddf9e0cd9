package repo

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-mint-node/internal/domain"
)

// openTestDB opens a fresh migrated SQLite DB under t.TempDir().
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return db
}

func TestCreateRequest_AndDedup(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	r, err := CreateRequest(ctx, db, "user-1", "a cat astronaut", "REQ123")
	if err != nil {
		t.Fatalf("CreateRequest: %v", err)
	}
	if r.State != domain.StateReceived {
		t.Fatalf("state = %s, want RECEIVED", r.State)
	}
	if r.ID == "" {
		t.Fatal("expected generated id")
	}

	// Same natural key: no second row, existing one returned.
	dup, err := CreateRequest(ctx, db, "user-1", "a cat astronaut", "REQ123")
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
	if dup.ID != r.ID {
		t.Fatalf("dup id = %s, want %s", dup.ID, r.ID)
	}
	total, err := CountRequests(ctx, db)
	if err != nil || total != 1 {
		t.Fatalf("CountRequests = %d, %v; want 1, nil", total, err)
	}

	// Same reference from another requester is a distinct request.
	other, err := CreateRequest(ctx, db, "user-2", "a dog astronaut", "REQ123")
	if err != nil {
		t.Fatalf("CreateRequest other requester: %v", err)
	}
	if other.ID == r.ID {
		t.Fatal("expected a distinct request")
	}
}

func TestTransitionState_GuardedUpdateAndAudit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r, _ := CreateRequest(ctx, db, "user-1", "p", "ref-1")

	err := TransitionState(ctx, db, r.ID, domain.StateReceived, domain.StatePaymentVerified, nil)
	if err != nil {
		t.Fatalf("TransitionState: %v", err)
	}

	// Same expected state again: the guard must reject it.
	err = TransitionState(ctx, db, r.ID, domain.StateReceived, domain.StatePaymentVerified, nil)
	if !errors.Is(err, ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}

	got, _ := GetRequest(ctx, db, r.ID)
	if got.State != domain.StatePaymentVerified {
		t.Fatalf("state = %s, want PAYMENT_VERIFIED", got.State)
	}
	if !got.UpdatedAt.After(r.UpdatedAt) && !got.UpdatedAt.Equal(r.UpdatedAt) {
		t.Fatal("updated_at must be refreshed")
	}

	hist, err := ListTransitions(ctx, db, r.ID)
	if err != nil {
		t.Fatalf("ListTransitions: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("transitions = %d, want 1", len(hist))
	}
	if hist[0].FromState != domain.StateReceived || hist[0].ToState != domain.StatePaymentVerified {
		t.Fatalf("unexpected transition row: %+v", hist[0])
	}
}

func TestTransitionState_RejectsIllegalEdge(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r, _ := CreateRequest(ctx, db, "user-1", "p", "ref-1")

	err := TransitionState(ctx, db, r.ID, domain.StateReceived, domain.StateMinted, nil)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("err = %v, want ErrInvalidTransition", err)
	}
	// Nothing written.
	hist, _ := ListTransitions(ctx, db, r.ID)
	if len(hist) != 0 {
		t.Fatalf("transitions = %d, want 0", len(hist))
	}
}

func TestTransitionState_AppliesUpdatesAndReason(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r, _ := CreateRequest(ctx, db, "user-1", "p", "ref-1")

	err := TransitionState(ctx, db, r.ID, domain.StateReceived, domain.StateRejected, map[string]any{
		"error_reason": domain.ReasonPaymentNotFound,
	})
	if err != nil {
		t.Fatalf("TransitionState: %v", err)
	}
	got, _ := GetRequest(ctx, db, r.ID)
	if got.ErrorReason != domain.ReasonPaymentNotFound {
		t.Fatalf("error_reason = %s, want PaymentNotFound", got.ErrorReason)
	}
	hist, _ := ListTransitions(ctx, db, r.ID)
	if len(hist) != 1 || hist[0].Reason != domain.ReasonPaymentNotFound {
		t.Fatalf("transition reason missing: %+v", hist)
	}
}

// Two workers racing on the same edge: exactly one wins, the loser sees
// ErrStateConflict and writes nothing.
func TestTransitionState_ConcurrentRace(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r, _ := CreateRequest(ctx, db, "user-1", "p", "ref-1")

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = TransitionState(ctx, db, r.ID, domain.StateReceived, domain.StatePaymentVerified, nil)
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrStateConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != 1 {
		t.Fatalf("wins=%d conflicts=%d, want exactly one winner", wins, conflicts)
	}
	hist, _ := ListTransitions(ctx, db, r.ID)
	if len(hist) != 1 {
		t.Fatalf("transitions = %d, want 1", len(hist))
	}
}

func TestListStale(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	stale, _ := CreateRequest(ctx, db, "user-1", "p", "ref-1")
	fresh, _ := CreateRequest(ctx, db, "user-2", "p", "ref-2")
	done, _ := CreateRequest(ctx, db, "user-3", "p", "ref-3")
	if err := TransitionState(ctx, db, done.ID, domain.StateReceived, domain.StateRejected, map[string]any{
		"error_reason": domain.ReasonPaymentNotFound,
	}); err != nil {
		t.Fatalf("TransitionState: %v", err)
	}

	// Age the stale row and the terminal row past the cutoff.
	old := time.Now().UTC().Add(-time.Hour)
	for _, id := range []string{stale.ID, done.ID} {
		if err := db.Model(&domain.Request{}).Where("id = ?", id).
			Update("updated_at", old).Error; err != nil {
			t.Fatalf("age row: %v", err)
		}
	}

	got, err := ListStale(ctx, db, time.Now().UTC().Add(-time.Minute), 10)
	if err != nil {
		t.Fatalf("ListStale: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Fatalf("ListStale = %+v, want only the stale non-terminal row", got)
	}
	_ = fresh
}

func TestListUnnotified_AndMarkNotified(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	r, _ := CreateRequest(ctx, db, "user-1", "p", "ref-1")
	if err := TransitionState(ctx, db, r.ID, domain.StateReceived, domain.StateRejected, map[string]any{
		"error_reason": domain.ReasonPaymentInvalid,
	}); err != nil {
		t.Fatalf("TransitionState: %v", err)
	}

	got, err := ListUnnotified(ctx, db, 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("ListUnnotified = %v, %v; want one row", got, err)
	}

	if err := MarkNotified(ctx, db, r.ID, time.Now()); err != nil {
		t.Fatalf("MarkNotified: %v", err)
	}
	got, _ = ListUnnotified(ctx, db, 10)
	if len(got) != 0 {
		t.Fatalf("ListUnnotified after mark = %d rows, want 0", len(got))
	}
}

func TestBumpAttempts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	r, _ := CreateRequest(ctx, db, "user-1", "p", "ref-1")

	for i := 0; i < 3; i++ {
		if err := BumpAttempts(ctx, db, r.ID, "mint_attempts"); err != nil {
			t.Fatalf("BumpAttempts: %v", err)
		}
	}
	got, _ := GetRequest(ctx, db, r.ID)
	if got.MintAttempts != 3 {
		t.Fatalf("mint_attempts = %d, want 3", got.MintAttempts)
	}

	if err := BumpAttempts(ctx, db, "missing", "mint_attempts"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListRequestsPage(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := CreateRequest(ctx, db, "user-1", "p", "ref-"+string(rune('a'+i))); err != nil {
			t.Fatalf("CreateRequest: %v", err)
		}
	}
	page, err := ListRequestsPage(ctx, db, 0, 3)
	if err != nil || len(page) != 3 {
		t.Fatalf("ListRequestsPage = %d rows, %v; want 3, nil", len(page), err)
	}
}
