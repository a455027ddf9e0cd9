package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/go-mint-node/internal/domain"
	"github.com/tbourn/go-mint-node/internal/messaging"
)

func TestIngestCreatesRequest(t *testing.T) {
	db := openTestDB(t)
	q := &fakeQueue{}
	svc := NewIngestService(db, q, nopLog())

	req, created, err := svc.Ingest(context.Background(), messaging.InboundEvent{
		RequesterIdentity: "rSENDER1",
		Prompt:            "GENERATE IMAGE ___ a cat astronaut",
		PaymentReference:  "REQ123",
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !created {
		t.Fatal("expected created=true")
	}
	if req.State != domain.StateReceived {
		t.Fatalf("state = %s, want RECEIVED", req.State)
	}
	if req.Prompt != "a cat astronaut" {
		t.Fatalf("prompt = %q, prefix not stripped", req.Prompt)
	}
	if len(q.ids) != 1 || q.ids[0] != req.ID {
		t.Fatalf("queue = %v, want [%s]", q.ids, req.ID)
	}
}

func TestIngestDuplicateReturnsExisting(t *testing.T) {
	db := openTestDB(t)
	q := &fakeQueue{}
	svc := NewIngestService(db, q, nopLog())
	ev := messaging.InboundEvent{
		RequesterIdentity: "rSENDER1",
		Prompt:            "a cat astronaut",
		PaymentReference:  "REQ123",
	}

	first, _, err := svc.Ingest(context.Background(), ev)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	// Replay with a different prompt body: the natural key wins.
	ev.Prompt = "a dog astronaut"
	second, created, err := svc.Ingest(context.Background(), ev)
	if err != nil {
		t.Fatalf("duplicate Ingest: %v", err)
	}
	if created {
		t.Fatal("duplicate reported created=true")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate returned new row %s, want %s", second.ID, first.ID)
	}
	if second.Prompt != "a cat astronaut" {
		t.Fatalf("prompt overwritten to %q", second.Prompt)
	}
	// The duplicate nudges a non-terminal request back onto the queue.
	if len(q.ids) != 2 {
		t.Fatalf("queue nudges = %d, want 2", len(q.ids))
	}
}

func TestIngestDuplicateTerminalNotRequeued(t *testing.T) {
	db := openTestDB(t)
	q := &fakeQueue{}
	svc := NewIngestService(db, q, nopLog())
	ev := messaging.InboundEvent{
		RequesterIdentity: "rSENDER1",
		Prompt:            "a cat astronaut",
		PaymentReference:  "REQ123",
	}
	req, _, err := svc.Ingest(context.Background(), ev)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if err := db.Model(&domain.Request{}).Where("id = ?", req.ID).
		Update("state", domain.StateDelivered).Error; err != nil {
		t.Fatalf("force state: %v", err)
	}

	if _, _, err := svc.Ingest(context.Background(), ev); err != nil {
		t.Fatalf("duplicate Ingest: %v", err)
	}
	if len(q.ids) != 1 {
		t.Fatalf("terminal duplicate was re-enqueued: %v", q.ids)
	}
}

func TestIngestValidation(t *testing.T) {
	db := openTestDB(t)
	svc := NewIngestService(db, &fakeQueue{}, nopLog())
	ctx := context.Background()

	cases := []struct {
		name string
		ev   messaging.InboundEvent
		want error
	}{
		{"empty prompt", messaging.InboundEvent{RequesterIdentity: "r1", Prompt: "   ", PaymentReference: "REQ1"}, ErrEmptyPrompt},
		{"prefix only", messaging.InboundEvent{RequesterIdentity: "r1", Prompt: "GENERATE IMAGE ___  ", PaymentReference: "REQ1"}, ErrEmptyPrompt},
		{"prompt too long", messaging.InboundEvent{RequesterIdentity: "r1", Prompt: strings.Repeat("x", 2001), PaymentReference: "REQ1"}, ErrPromptTooLong},
		{"reference with spaces", messaging.InboundEvent{RequesterIdentity: "r1", Prompt: "ok", PaymentReference: "REQ 123"}, ErrInvalidReference},
		{"empty reference", messaging.InboundEvent{RequesterIdentity: "r1", Prompt: "ok", PaymentReference: ""}, ErrInvalidReference},
		{"empty requester", messaging.InboundEvent{RequesterIdentity: " ", Prompt: "ok", PaymentReference: "REQ1"}, ErrInvalidReference},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := svc.Ingest(ctx, tc.ev); !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestParsePrompt(t *testing.T) {
	cases := []struct{ in, want string }{
		{"GENERATE IMAGE ___ a sunset", "a sunset"},
		{"  GENERATE IMAGE ___   spaced   ", "spaced"},
		{"plain prompt", "plain prompt"},
		{"GENERATE IMAGE ___", ""},
	}
	for _, tc := range cases {
		if got := ParsePrompt(tc.in); got != tc.want {
			t.Errorf("ParsePrompt(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
