package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-mint-node/internal/backoff"
	"github.com/tbourn/go-mint-node/internal/domain"
	"github.com/tbourn/go-mint-node/internal/genai"
	"github.com/tbourn/go-mint-node/internal/ledger"
	"github.com/tbourn/go-mint-node/internal/messaging"
	"github.com/tbourn/go-mint-node/internal/repo"
)

// Shared test helpers and fakes for the service layer. External
// clients (ledger, AI providers, pinner, messenger) are faked; the
// database is a real temp-file SQLite so the conditional transitions
// behave exactly as in production.

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repo.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// seedRequest creates a request and forces it into the given state,
// bypassing the transition guard (tests arrange, production never does).
func seedRequest(t *testing.T, db *gorm.DB, state domain.State) *domain.Request {
	t.Helper()
	req, err := repo.CreateRequest(context.Background(), db, "rWALLET"+string(state), "a cat astronaut", "REF-"+string(state))
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if state != domain.StateReceived {
		if err := db.Model(&domain.Request{}).Where("id = ?", req.ID).
			Update("state", state).Error; err != nil {
			t.Fatalf("force state: %v", err)
		}
		req.State = state
	}
	return req
}

func reload(t *testing.T, db *gorm.DB, id string) *domain.Request {
	t.Helper()
	req, err := repo.GetRequest(context.Background(), db, id)
	if err != nil {
		t.Fatalf("reload request: %v", err)
	}
	return req
}

// fastBackoff keeps retry pacing out of test wall time.
func fastBackoff() backoff.Config {
	return backoff.Config{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func nopLog() zerolog.Logger { return zerolog.Nop() }

// fakeFinder returns a scripted sequence of results; the last entry
// repeats once the script is exhausted.
type fakeFinder struct {
	mu      sync.Mutex
	script  []func() (*ledger.Payment, error)
	lookups int
}

func (f *fakeFinder) FindPayment(ctx context.Context, memo string, window time.Duration) (*ledger.Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.lookups
	f.lookups++
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i]()
}

func payment(sender string, amount float64) func() (*ledger.Payment, error) {
	return func() (*ledger.Payment, error) {
		return &ledger.Payment{Sender: sender, Amount: amount, TxHash: "ABC123"}, nil
	}
}

func noPayment() func() (*ledger.Payment, error) {
	return func() (*ledger.Payment, error) { return nil, ledger.ErrNoPayment }
}

func lookupErr(err error) func() (*ledger.Payment, error) {
	return func() (*ledger.Payment, error) { return nil, err }
}

// fakeMinter scripts SubmitMint outcomes and records submissions.
type fakeMinter struct {
	mu      sync.Mutex
	script  []func() (*ledger.MintResult, error)
	submits int

	lookupRes *ledger.MintResult
	lookupErr error
	lookups   int
}

func (f *fakeMinter) SubmitMint(ctx context.Context, key string, meta ledger.MintMetadata) (*ledger.MintResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.submits
	f.submits++
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i]()
}

func (f *fakeMinter) LookupMint(ctx context.Context, key string) (*ledger.MintResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.lookupRes, nil
}

func mintOK(assetRef string) func() (*ledger.MintResult, error) {
	return func() (*ledger.MintResult, error) {
		return &ledger.MintResult{AssetReference: assetRef, TxHash: "DEADBEEF"}, nil
	}
}

func mintErr(err error) func() (*ledger.MintResult, error) {
	return func() (*ledger.MintResult, error) { return nil, err }
}

// fakeProvider scripts Generate outcomes under a name.
type fakeProvider struct {
	mu     sync.Mutex
	name   string
	script []func() (*genai.Media, error)
	calls  int
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Generate(ctx context.Context, prompt string, spec genai.OutputSpec) (*genai.Media, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.script) {
		i = len(f.script) - 1
	}
	return f.script[i]()
}

func mediaOK(url string) func() (*genai.Media, error) {
	return func() (*genai.Media, error) {
		return &genai.Media{URL: url, ContentType: "image/png"}, nil
	}
}

func mediaErr(err error) func() (*genai.Media, error) {
	return func() (*genai.Media, error) { return nil, err }
}

// fakePinner pins to a deterministic URI or fails.
type fakePinner struct {
	mu    sync.Mutex
	uri   string
	errs  []error
	calls int
}

func (f *fakePinner) PinByURL(ctx context.Context, srcURL, fileName string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	return f.uri, nil
}

// fakeMessenger records delivered outcomes and can fail on demand.
type fakeMessenger struct {
	mu        sync.Mutex
	err       error
	delivered []messaging.Outcome
}

func (f *fakeMessenger) Deliver(ctx context.Context, o messaging.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.delivered = append(f.delivered, o)
	return nil
}

func (f *fakeMessenger) outcomes() []messaging.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]messaging.Outcome, len(f.delivered))
	copy(out, f.delivered)
	return out
}

// fakeQueue records enqueued ids.
type fakeQueue struct {
	mu  sync.Mutex
	ids []string
}

func (f *fakeQueue) Enqueue(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return true
}
