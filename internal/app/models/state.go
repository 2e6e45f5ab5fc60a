package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type SyncStatus string

const (
	SyncSynced   SyncStatus = "synced"
	SyncPending  SyncStatus = "pending"
	SyncConflict SyncStatus = "conflict"
	SyncError    SyncStatus = "error"
)

type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
	ValidationPending ValidationStatus = "pending"
)

// ErrorLogEntry is one line of an itinerary's bounded error log.
type ErrorLogEntry struct {
	At      time.Time `json:"at"`
	Stage   string    `json:"stage"`
	Message string    `json:"message"`
}

// ConflictInfo describes an unresolved version divergence.
type ConflictInfo struct {
	LocalVersion  int64     `json:"local_version"`
	RemoteVersion int64     `json:"remote_version"`
	DetectedAt    time.Time `json:"detected_at"`
}

// ItineraryState is the management-layer view of one itinerary.
type ItineraryState struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	Version          int64            `json:"version"`
	LastModified     time.Time        `json:"last_modified"`
	Output           *GeneratorOutput `json:"output"`
	Input            *GeneratorInput  `json:"input,omitempty"`
	SyncStatus       SyncStatus       `json:"sync_status"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	Errors           []ErrorLogEntry  `json:"errors,omitempty"`
	Conflict         *ConflictInfo    `json:"conflict,omitempty"`
	AppliedUpdates   []string         `json:"applied_updates,omitempty"`
}

// Clone copies the state so a mutation never becomes visible to readers
// holding the previous pointer.
func (s *ItineraryState) Clone() *ItineraryState {
	out := *s
	if s.Output != nil {
		raw, _ := json.Marshal(s.Output)
		var o GeneratorOutput
		_ = json.Unmarshal(raw, &o)
		out.Output = &o
	}
	if s.Input != nil {
		in := s.Input.Clone()
		out.Input = &in
	}
	out.Errors = append([]ErrorLogEntry(nil), s.Errors...)
	out.AppliedUpdates = append([]string(nil), s.AppliedUpdates...)
	if s.Conflict != nil {
		c := *s.Conflict
		out.Conflict = &c
	}
	return &out
}

type UpdateType string

const (
	UpdateDestinationAdd    UpdateType = "destination_add"
	UpdateDestinationRemove UpdateType = "destination_remove"
	UpdateDestinationUpdate UpdateType = "destination_update"
	UpdateBudgetChange      UpdateType = "budget_change"
	UpdateDateChange        UpdateType = "date_change"
	UpdatePreferenceUpdate  UpdateType = "preference_update"
)

type UpdateSource string

const (
	SourceUser UpdateSource = "user"
	SourceSync UpdateSource = "sync"
	SourceAuto UpdateSource = "auto"
)

// ItineraryUpdate is a tagged variant; Payload is decoded according to Type.
type ItineraryUpdate struct {
	ID        string          `json:"id,omitempty"`
	Type      UpdateType      `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Source    UpdateSource    `json:"source"`
}

type DestinationPayload struct {
	Destination Destination `json:"destination"`
}

type DestinationRemovePayload struct {
	DestinationID string `json:"destination_id"`
}

type BudgetPayload struct {
	Budget float64 `json:"budget"`
}

type DatePayload struct {
	StartDate time.Time `json:"start_date"`
	Days      *int      `json:"days,omitempty"`
}

// PreferencePayload carries a partial preference change.
type PreferencePayload struct {
	Travelers         *int               `json:"travelers,omitempty"`
	AccommodationType *AccommodationType `json:"accommodation_type,omitempty"`
	Cities            []string           `json:"cities,omitempty"`
	Interests         []string           `json:"interests,omitempty"`
	Themes            []string           `json:"themes,omitempty"`
	Constraints       *Constraints       `json:"constraints,omitempty"`
	Config            *ConfigOverrides   `json:"config,omitempty"`
}

// PlanPayload is accepted by any update type and carries a complete plan,
// used to rebuild a state lost from memory.
type PlanPayload struct {
	Plan *GeneratorOutput `json:"plan"`
}

// NewUpdate encodes payload into an ItineraryUpdate.
func NewUpdate(t UpdateType, payload any, source UpdateSource) (ItineraryUpdate, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ItineraryUpdate{}, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	return ItineraryUpdate{
		Type:      t,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		Source:    source,
	}, nil
}

// Decode unmarshals the payload into v.
func (u ItineraryUpdate) Decode(v any) error {
	if len(u.Payload) == 0 {
		return fmt.Errorf("%s update has no payload: %w", u.Type, ErrBadRequest)
	}
	if err := json.Unmarshal(u.Payload, v); err != nil {
		return fmt.Errorf("decoding %s payload: %w", u.Type, ErrBadRequest)
	}
	return nil
}

// FullPlan returns the plan carried by the payload, if any.
func (u ItineraryUpdate) FullPlan() *GeneratorOutput {
	if len(u.Payload) == 0 {
		return nil
	}
	var p PlanPayload
	if err := json.Unmarshal(u.Payload, &p); err != nil || p.Plan == nil || len(p.Plan.Days) == 0 {
		return nil
	}
	return p.Plan
}
