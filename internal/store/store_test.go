package store

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SubscriptionStore {
	t.Helper()
	st, err := NewSubscriptionStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSubscriptionStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testRecord(observedAt time.Time) *SubscriptionRecord {
	return &SubscriptionRecord{
		UserID:               "u1",
		StripeSubscriptionID: "sub_1",
		StripeCustomerID:     "cus_1",
		Status:               StatusActive,
		CurrentPeriodStart:   time.Unix(1_700_000_000, 0).UTC(),
		CurrentPeriodEnd:     time.Unix(1_702_592_000, 0).UTC(),
		UpdatedAt:            observedAt,
	}
}

func TestUpsertAndGet(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	applied, err := st.Upsert(testRecord(now))
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if !applied {
		t.Fatal("expected insert to be applied")
	}

	got, err := st.GetBySubscriptionID("sub_1")
	if err != nil {
		t.Fatalf("GetBySubscriptionID: %v", err)
	}
	if got == nil {
		t.Fatal("expected record, got nil")
	}
	if got.UserID != "u1" || got.StripeCustomerID != "cus_1" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.Status != StatusActive {
		t.Errorf("status = %q, want %q", got.Status, StatusActive)
	}
	if !got.UpdatedAt.Equal(now) {
		t.Errorf("updated_at = %s, want %s", got.UpdatedAt, now)
	}
	if got.CurrentPeriodStart.Unix() != 1_700_000_000 || got.CurrentPeriodEnd.Unix() != 1_702_592_000 {
		t.Errorf("period = [%s, %s]", got.CurrentPeriodStart, got.CurrentPeriodEnd)
	}

	byUser, err := st.GetByUserID("u1")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if byUser == nil || byUser.StripeSubscriptionID != "sub_1" {
		t.Fatalf("GetByUserID = %+v, want sub_1", byUser)
	}
}

func TestGetReturnsNilWhenAbsent(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetBySubscriptionID("sub_missing")
	if err != nil {
		t.Fatalf("GetBySubscriptionID: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}

	byUser, err := st.GetByUserID("u_missing")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if byUser != nil {
		t.Fatalf("expected nil, got %+v", byUser)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	for i := 0; i < 3; i++ {
		applied, err := st.Upsert(testRecord(now))
		if err != nil {
			t.Fatalf("Upsert #%d: %v", i+1, err)
		}
		if !applied {
			t.Fatalf("Upsert #%d: expected applied", i+1)
		}
	}

	got, err := st.GetBySubscriptionID("sub_1")
	if err != nil {
		t.Fatalf("GetBySubscriptionID: %v", err)
	}
	if got.Status != StatusActive || !got.UpdatedAt.Equal(now) {
		t.Errorf("record diverged after replay: %+v", got)
	}
}

func TestUpsertNeverChangesOwner(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	if _, err := st.Upsert(testRecord(now)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hijack := testRecord(now.Add(time.Minute))
	hijack.UserID = "u2"
	if _, err := st.Upsert(hijack); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	got, err := st.GetBySubscriptionID("sub_1")
	if err != nil {
		t.Fatalf("GetBySubscriptionID: %v", err)
	}
	if got.UserID != "u1" {
		t.Errorf("user_id = %q, want original owner u1", got.UserID)
	}
}

func TestUpsertRejectsStaleWrite(t *testing.T) {
	st := newTestStore(t)
	newer := time.Now().UTC().Truncate(time.Second)
	older := newer.Add(-time.Hour)

	if _, err := st.Upsert(testRecord(newer)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	stale := testRecord(older)
	stale.Status = StatusTrialing
	applied, err := st.Upsert(stale)
	if err != nil {
		t.Fatalf("Upsert stale: %v", err)
	}
	if applied {
		t.Fatal("expected stale upsert to be discarded")
	}

	got, err := st.GetBySubscriptionID("sub_1")
	if err != nil {
		t.Fatalf("GetBySubscriptionID: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("status = %q, stale write should not land", got.Status)
	}
}

func TestUpdateFieldsPartial(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	if _, err := st.Upsert(testRecord(now)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	canceled := StatusCanceled
	applied, err := st.UpdateFields("sub_1", SubscriptionUpdate{
		Status:     &canceled,
		ObservedAt: now.Add(time.Minute),
	})
	if err != nil {
		t.Fatalf("UpdateFields: %v", err)
	}
	if !applied {
		t.Fatal("expected update to be applied")
	}

	got, err := st.GetBySubscriptionID("sub_1")
	if err != nil {
		t.Fatalf("GetBySubscriptionID: %v", err)
	}
	if got.Status != StatusCanceled {
		t.Errorf("status = %q, want canceled", got.Status)
	}
	// Untouched fields keep their values.
	if got.CurrentPeriodEnd.Unix() != 1_702_592_000 {
		t.Errorf("period end changed: %s", got.CurrentPeriodEnd)
	}
	if got.StripeCustomerID != "cus_1" {
		t.Errorf("customer id changed: %s", got.StripeCustomerID)
	}
}

func TestUpdateFieldsNotFound(t *testing.T) {
	st := newTestStore(t)

	status := StatusActive
	_, err := st.UpdateFields("sub_missing", SubscriptionUpdate{
		Status:     &status,
		ObservedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("err = %v, want ErrRecordNotFound", err)
	}
}

func TestUpdateFieldsRejectsStaleWrite(t *testing.T) {
	st := newTestStore(t)
	newer := time.Now().UTC().Truncate(time.Second)

	if _, err := st.Upsert(testRecord(newer)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	active := StatusActive
	applied, err := st.UpdateFields("sub_1", SubscriptionUpdate{
		Status:     &active,
		ObservedAt: newer.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("UpdateFields stale: %v", err)
	}
	if applied {
		t.Fatal("expected stale update to be discarded")
	}

	got, err := st.GetBySubscriptionID("sub_1")
	if err != nil {
		t.Fatalf("GetBySubscriptionID: %v", err)
	}
	if !got.UpdatedAt.Equal(newer) {
		t.Errorf("updated_at moved backwards: %s", got.UpdatedAt)
	}
}

func TestConcurrentWritesForSameKeySerialize(t *testing.T) {
	st := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	if _, err := st.Upsert(testRecord(base)); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	// Concurrent deliveries for the same subscription, each observed at a
	// distinct time. Whatever order they land in, the newest must win and no
	// write may error.
	statuses := []SubscriptionStatus{StatusActive, StatusPastDue, StatusTrialing, StatusUnpaid}
	const writers = 16

	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 1; i <= writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := statuses[i%len(statuses)]
			if _, err := st.UpdateFields("sub_1", SubscriptionUpdate{
				Status:     &status,
				ObservedAt: base.Add(time.Duration(i) * time.Minute),
			}); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent UpdateFields: %v", err)
	}

	got, err := st.GetBySubscriptionID("sub_1")
	if err != nil {
		t.Fatalf("GetBySubscriptionID: %v", err)
	}
	if want := base.Add(writers * time.Minute); !got.UpdatedAt.Equal(want) {
		t.Errorf("updated_at = %s, want %s", got.UpdatedAt, want)
	}
	if want := statuses[writers%len(statuses)]; got.Status != want {
		t.Errorf("status = %q, want %q (the newest write)", got.Status, want)
	}
}

func TestGetByUserIDPicksNewestRecord(t *testing.T) {
	st := newTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	old := testRecord(base)
	old.StripeSubscriptionID = "sub_old"
	old.Status = StatusCanceled
	old.CreatedAt = base.Add(-48 * time.Hour)
	if _, err := st.Upsert(old); err != nil {
		t.Fatalf("Upsert old: %v", err)
	}

	current := testRecord(base)
	current.StripeSubscriptionID = "sub_new"
	current.CreatedAt = base
	if _, err := st.Upsert(current); err != nil {
		t.Fatalf("Upsert current: %v", err)
	}

	got, err := st.GetByUserID("u1")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if got == nil || got.StripeSubscriptionID != "sub_new" {
		t.Fatalf("GetByUserID = %+v, want sub_new", got)
	}
}

func TestValidate(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		mutate  func(*SubscriptionRecord)
		wantErr bool
	}{
		{"valid", func(r *SubscriptionRecord) {}, false},
		{"missing-user", func(r *SubscriptionRecord) { r.UserID = " " }, true},
		{"missing-subscription-id", func(r *SubscriptionRecord) { r.StripeSubscriptionID = "" }, true},
		{"unknown-status", func(r *SubscriptionRecord) { r.Status = "paused" }, true},
		{"inverted-period", func(r *SubscriptionRecord) {
			r.CurrentPeriodStart, r.CurrentPeriodEnd = r.CurrentPeriodEnd, r.CurrentPeriodStart
		}, true},
		{"zero-period-ok", func(r *SubscriptionRecord) {
			r.CurrentPeriodStart = time.Time{}
			r.CurrentPeriodEnd = time.Time{}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testRecord(now)
			tt.mutate(r)
			err := r.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr=%v", err, tt.wantErr)
			}
		})
	}
}

func TestCountByStatus(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	a := testRecord(now)
	if _, err := st.Upsert(a); err != nil {
		t.Fatal(err)
	}
	b := testRecord(now)
	b.StripeSubscriptionID = "sub_2"
	b.UserID = "u2"
	b.Status = StatusCanceled
	if _, err := st.Upsert(b); err != nil {
		t.Fatal(err)
	}

	counts, err := st.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus: %v", err)
	}
	if counts[StatusActive] != 1 || counts[StatusCanceled] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestCountLapsed(t *testing.T) {
	st := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	lapsed := testRecord(now)
	lapsed.CurrentPeriodStart = now.Add(-60 * 24 * time.Hour)
	lapsed.CurrentPeriodEnd = now.Add(-30 * 24 * time.Hour)
	if _, err := st.Upsert(lapsed); err != nil {
		t.Fatal(err)
	}

	current := testRecord(now)
	current.StripeSubscriptionID = "sub_2"
	current.UserID = "u2"
	current.CurrentPeriodStart = now.Add(-24 * time.Hour)
	current.CurrentPeriodEnd = now.Add(29 * 24 * time.Hour)
	if _, err := st.Upsert(current); err != nil {
		t.Fatal(err)
	}

	canceled := testRecord(now)
	canceled.StripeSubscriptionID = "sub_3"
	canceled.UserID = "u3"
	canceled.Status = StatusCanceled
	canceled.CurrentPeriodStart = now.Add(-60 * 24 * time.Hour)
	canceled.CurrentPeriodEnd = now.Add(-30 * 24 * time.Hour)
	if _, err := st.Upsert(canceled); err != nil {
		t.Fatal(err)
	}

	count, err := st.CountLapsed(now)
	if err != nil {
		t.Fatalf("CountLapsed: %v", err)
	}
	if count != 1 {
		t.Errorf("CountLapsed = %d, want 1", count)
	}
}
