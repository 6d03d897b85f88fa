package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/garapin-pos/settlement-engine/internal/executor"
	"github.com/garapin-pos/settlement-engine/internal/models"
	"github.com/garapin-pos/settlement-engine/internal/storage"
)

// recordingStore captures the writes the state machine makes.
type recordingStore struct {
	storage.TenantStore

	settlements      map[string][2]string // invoice -> [status, settlement]
	childSettlements map[string][2]string
	merchantStatus   models.MerchantStatus
	positions        []models.Position
	updatedPositions []models.Position
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		settlements:      make(map[string][2]string),
		childSettlements: make(map[string][2]string),
	}
}

func (s *recordingStore) UpdateSettlement(_ context.Context, invoice string, status models.TransactionStatus, settlement models.SettlementStatus) error {
	s.settlements[invoice] = [2]string{string(status), string(settlement)}
	return nil
}

func (s *recordingStore) UpdateChildSettlements(_ context.Context, parent string, status models.TransactionStatus, settlement models.SettlementStatus) error {
	s.childSettlements[parent] = [2]string{string(status), string(settlement)}
	return nil
}

func (s *recordingStore) UpdateMerchantStatus(_ context.Context, status models.MerchantStatus) error {
	s.merchantStatus = status
	return nil
}

func (s *recordingStore) Positions(context.Context) ([]models.Position, error) {
	return s.positions, nil
}

func (s *recordingStore) UpdatePosition(_ context.Context, p *models.Position) error {
	s.updatedPositions = append(s.updatedPositions, *p)
	return nil
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestSettled(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []executor.Outcome
		want     bool
	}{
		{"all settled", []executor.Outcome{executor.OutcomeSettled, executor.OutcomeSettled}, true},
		{"settled and skipped", []executor.Outcome{executor.OutcomeSettled, executor.OutcomeSkipped}, true},
		{"one failed", []executor.Outcome{executor.OutcomeSettled, executor.OutcomeFailed}, false},
		{"no outcomes", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Settled(tt.outcomes); got != tt.want {
				t.Errorf("Settled() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyOutcomes(t *testing.T) {
	m := New(time.UTC)

	t.Run("settled outcomes mark the transaction and children settled", func(t *testing.T) {
		store := newRecordingStore()
		err := m.ApplyOutcomes(context.Background(), store, "INV-1",
			[]executor.Outcome{executor.OutcomeSettled, executor.OutcomeSkipped})
		if err != nil {
			t.Fatalf("ApplyOutcomes() error = %v", err)
		}
		want := [2]string{"SUCCEEDED", "SETTLED"}
		if store.settlements["INV-1"] != want {
			t.Errorf("settlement = %v, want %v", store.settlements["INV-1"], want)
		}
		if store.childSettlements["INV-1"] != want {
			t.Errorf("child settlement = %v, want %v", store.childSettlements["INV-1"], want)
		}
	})

	t.Run("failed outcomes keep the transaction retryable", func(t *testing.T) {
		store := newRecordingStore()
		err := m.ApplyOutcomes(context.Background(), store, "INV-2",
			[]executor.Outcome{executor.OutcomeSettled, executor.OutcomeFailed})
		if err != nil {
			t.Fatalf("ApplyOutcomes() error = %v", err)
		}
		want := [2]string{"PENDING_TRANSFER", "NOT_SETTLED"}
		if store.settlements["INV-2"] != want {
			t.Errorf("settlement = %v, want %v", store.settlements["INV-2"], want)
		}
	})
}

func TestLockIfPastCutoff(t *testing.T) {
	jakarta, err := time.LoadLocation("Asia/Jakarta")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}

	// 2026-02-10 23:45 Jakarta time, past the 23:30 cutoff.
	past := time.Date(2026, 2, 10, 23, 45, 0, 0, jakarta)
	// Same day at 18:00, before the cutoff.
	before := time.Date(2026, 2, 10, 18, 0, 0, 0, jakarta)

	tests := []struct {
		name       string
		now        time.Time
		status     models.MerchantStatus
		wantLocked bool
	}{
		{"active merchant past cutoff is locked", past, models.MerchantActive, true},
		{"active merchant before cutoff stays active", before, models.MerchantActive, false},
		{"locked merchant is left alone", past, models.MerchantLocked, false},
		{"pending-active merchant is left alone", past, models.MerchantPendingActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(jakarta, WithClock(fixedClock(tt.now)))
			store := newRecordingStore()
			merchant := &models.Merchant{Name: "toko", Status: tt.status}

			locked, err := m.LockIfPastCutoff(context.Background(), store, merchant)
			if err != nil {
				t.Fatalf("LockIfPastCutoff() error = %v", err)
			}
			if locked != tt.wantLocked {
				t.Errorf("LockIfPastCutoff() = %v, want %v", locked, tt.wantLocked)
			}
			if tt.wantLocked && merchant.Status != models.MerchantLocked {
				t.Errorf("merchant status = %s, want LOCKED", merchant.Status)
			}
		})
	}
}

func TestReactivate(t *testing.T) {
	m := New(time.UTC)

	tests := []struct {
		name       string
		status     models.MerchantStatus
		wantActive bool
	}{
		{"locked merchant reactivates", models.MerchantLocked, true},
		{"pending-active merchant reactivates", models.MerchantPendingActive, true},
		{"active merchant is untouched", models.MerchantActive, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newRecordingStore()
			merchant := &models.Merchant{Name: "toko", Status: tt.status}

			if err := m.Reactivate(context.Background(), store, merchant); err != nil {
				t.Fatalf("Reactivate() error = %v", err)
			}
			if tt.wantActive {
				if merchant.Status != models.MerchantActive {
					t.Errorf("merchant status = %s, want ACTIVE", merchant.Status)
				}
				if store.merchantStatus != models.MerchantActive {
					t.Errorf("stored status = %s, want ACTIVE", store.merchantStatus)
				}
			} else if store.merchantStatus != "" {
				t.Errorf("stored status = %s, want no write", store.merchantStatus)
			}
		})
	}
}

func TestAdvancePositions(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := New(time.UTC, WithClock(fixedClock(now)))

	expired := now.Add(-24 * time.Hour)
	dueSoon := now.Add(48 * time.Hour)
	farOut := now.Add(30 * 24 * time.Hour)
	rentedStart := now.Add(-10 * 24 * time.Hour)

	store := newRecordingStore()
	store.positions = []models.Position{
		{ID: "p1", Name: "expired", Status: models.PositionRented, StartDate: &rentedStart, EndDate: &expired},
		{ID: "p2", Name: "due-soon", Status: models.PositionRented, StartDate: &rentedStart, EndDate: &dueSoon},
		{ID: "p3", Name: "mid-rental", Status: models.PositionIncoming, StartDate: &rentedStart, EndDate: &farOut},
		{ID: "p4", Name: "already-available", Status: models.PositionAvailable, AvailableDate: &rentedStart},
	}

	if err := m.AdvancePositions(context.Background(), store, DefaultDueWindow); err != nil {
		t.Fatalf("AdvancePositions() error = %v", err)
	}

	byID := make(map[string]models.Position)
	for _, p := range store.updatedPositions {
		byID[p.ID] = p
	}

	p1, ok := byID["p1"]
	if !ok {
		t.Fatal("expired position was not updated")
	}
	if p1.Status != models.PositionAvailable {
		t.Errorf("p1 status = %s, want AVAILABLE", p1.Status)
	}
	if p1.StartDate != nil || p1.EndDate != nil {
		t.Error("p1 rental window was not cleared")
	}
	if p1.AvailableDate == nil || !p1.AvailableDate.Equal(now) {
		t.Errorf("p1 available date = %v, want %v", p1.AvailableDate, now)
	}

	if p2, ok := byID["p2"]; !ok || p2.Status != models.PositionIncoming {
		t.Errorf("p2 status = %v, want IN_COMING", p2.Status)
	}
	if p3, ok := byID["p3"]; !ok || p3.Status != models.PositionRented {
		t.Errorf("p3 status = %v, want RENT", p3.Status)
	}
	p4, ok := byID["p4"]
	if !ok {
		t.Fatal("available position was not re-applied")
	}
	if p4.Status != models.PositionAvailable {
		t.Errorf("p4 status = %s, want AVAILABLE", p4.Status)
	}
	if p4.AvailableDate == nil || !p4.AvailableDate.Equal(rentedStart) {
		t.Errorf("p4 available date = %v, want the original %v", p4.AvailableDate, rentedStart)
	}
}
