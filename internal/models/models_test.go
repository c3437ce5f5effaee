package models

import (
	"encoding/json"
	"testing"
)

// ========================================
// GenerationStatus Tests
// ========================================

func TestGenerationStatus_Terminal(t *testing.T) {
	tests := []struct {
		status GenerationStatus
		want   bool
	}{
		{GenerationStatusPending, false},
		{GenerationStatusProcessing, false},
		{GenerationStatusCompleted, true},
		{GenerationStatusFailed, true},
	}
	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("%s.Terminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestGenerationStatus_RankIsMonotonic(t *testing.T) {
	if !(GenerationStatusPending.Rank() < GenerationStatusProcessing.Rank()) {
		t.Error("pending should rank below processing")
	}
	if !(GenerationStatusProcessing.Rank() < GenerationStatusCompleted.Rank()) {
		t.Error("processing should rank below completed")
	}
	if GenerationStatusCompleted.Rank() != GenerationStatusFailed.Rank() {
		t.Error("terminal statuses should share a rank")
	}
	if GenerationStatus("bogus").Rank() != -1 {
		t.Error("unknown status should rank -1")
	}
}

func TestGenerationType_Valid(t *testing.T) {
	for _, gt := range []GenerationType{GenerationTypeSoundLogo, GenerationTypePlaylist, GenerationTypeSocialClip, GenerationTypeLongForm} {
		if !gt.Valid() {
			t.Errorf("%s.Valid() = false, want true", gt)
		}
	}
	if GenerationType("sound_logo").Valid() {
		t.Error("underscore variant should not be valid")
	}
}

func TestPaymentIntentStatus_Terminal(t *testing.T) {
	if IntentStatusPending.Terminal() || IntentStatusProcessing.Terminal() {
		t.Error("pending/processing should not be terminal")
	}
	for _, s := range []PaymentIntentStatus{IntentStatusSucceeded, IntentStatusFailed, IntentStatusCanceled, IntentStatusRefunded} {
		if !s.Terminal() {
			t.Errorf("%s.Terminal() = false, want true", s)
		}
	}
}

func TestPaymentIntentStatus_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to PaymentIntentStatus
		want     bool
	}{
		{IntentStatusPending, IntentStatusSucceeded, true},
		{IntentStatusPending, IntentStatusProcessing, true},
		{IntentStatusProcessing, IntentStatusPending, false},
		{IntentStatusProcessing, IntentStatusFailed, true},
		{IntentStatusFailed, IntentStatusSucceeded, true},
		{IntentStatusFailed, IntentStatusPending, false},
		{IntentStatusSucceeded, IntentStatusSucceeded, true},
		{IntentStatusSucceeded, IntentStatusFailed, false},
		{IntentStatusSucceeded, IntentStatusRefunded, true},
		{IntentStatusCanceled, IntentStatusSucceeded, false},
		{IntentStatusRefunded, IntentStatusSucceeded, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
			t.Errorf("%s.CanAdvanceTo(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestSubscriptionStatus_GrantsAccess(t *testing.T) {
	if !SubscriptionStatusActive.GrantsAccess() || !SubscriptionStatusTrialing.GrantsAccess() {
		t.Error("active and trialing should grant access")
	}
	if SubscriptionStatusCanceled.GrantsAccess() || SubscriptionStatusPastDue.GrantsAccess() {
		t.Error("canceled and past_due should not grant access")
	}
}

// ========================================
// FlexInt Tests
// ========================================

func TestFlexInt_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		input   string
		want    int
		wantErr bool
	}{
		{`10`, 10, false},
		{`"10"`, 10, false},
		{`" 7 "`, 7, false},
		{`12.0`, 12, false},
		{`12.5`, 0, true},
		{`"abc"`, 0, true},
		{`true`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var f FlexInt
			err := json.Unmarshal([]byte(tt.input), &f)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && f.Int() != tt.want {
				t.Errorf("Unmarshal(%s) = %d, want %d", tt.input, f.Int(), tt.want)
			}
		})
	}
}

func TestFlexInt_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Duration FlexInt `json:"duration"`
	}{Duration: 9})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `{"duration":9}` {
		t.Errorf("Marshal() = %s, want {\"duration\":9}", data)
	}
}
