package models

import (
	"time"
)

// RequestStatus represents the lifecycle state of a fan-out request
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusProcessing RequestStatus = "processing"
	RequestStatusComplete   RequestStatus = "complete"
	RequestStatusError      RequestStatus = "error"
)

// RequestRecord is the durable ledger entry for one student query and all
// of its fan-out work. requiredSources is fixed at creation and is the sole
// termination criterion; receivedResults is append-only.
type RequestRecord struct {
	CorrelationID   string        `bson:"correlationId" json:"correlation_id"`
	UserID          string        `bson:"userId" json:"user_id"`
	Message         string        `bson:"message" json:"message"`
	RequiredSources []string      `bson:"requiredSources" json:"required_sources"`
	ReceivedResults []WorkResult  `bson:"receivedResults" json:"received_results"`
	Status          RequestStatus `bson:"status" json:"status"`
	Answer          string        `bson:"answer,omitempty" json:"answer,omitempty"`
	Error           string        `bson:"error,omitempty" json:"error,omitempty"`

	CreatedAt time.Time `bson:"createdAt" json:"created_at"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updated_at"`
}

// IsTerminal reports whether the record can no longer transition.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusComplete || s == RequestStatusError
}

// ReceivedSourceSet returns the distinct source names present in the
// received results.
func (r *RequestRecord) ReceivedSourceSet() map[string]bool {
	set := make(map[string]bool, len(r.ReceivedResults))
	for _, res := range r.ReceivedResults {
		set[res.Source] = true
	}
	return set
}

// Satisfied reports whether every required source has produced a result.
// Sources outside requiredSources never count toward completion.
func (r *RequestRecord) Satisfied() bool {
	received := r.ReceivedSourceSet()
	for _, src := range r.RequiredSources {
		if !received[src] {
			return false
		}
	}
	return true
}

// WorkResult is one worker's outcome for a (correlation id, source) pair.
// Exactly one of Data / Error is populated; never mutated after creation.
type WorkResult struct {
	Source     string      `bson:"source" json:"source"`
	Data       interface{} `bson:"data,omitempty" json:"data,omitempty"`
	Error      string      `bson:"error,omitempty" json:"error,omitempty"`
	ReceivedAt time.Time   `bson:"receivedAt" json:"received_at"`
}

// SourceRequest names a data source the analyzer decided is needed, plus
// source-specific parameters.
type SourceRequest struct {
	Source string                 `json:"source"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// WorkUnit is the envelope the dispatcher emits per required source.
// Workers may run in other processes, so this is the full wire contract.
type WorkUnit struct {
	CorrelationID string                 `json:"correlationId"`
	UserID        string                 `json:"userId"`
	Source        string                 `json:"source"`
	Params        map[string]interface{} `json:"params,omitempty"`
}

// EmissionStatus reports whether a single work unit left the dispatcher.
type EmissionStatus struct {
	Source string `json:"source"`
	Status string `json:"status"` // "dispatched" or "error"
	Error  string `json:"error,omitempty"`
}

// DispatchResult is what the dispatcher reports back to its caller for
// observability. A failed emission still leaves the ledger entry in place.
type DispatchResult struct {
	CorrelationID string           `json:"correlation_id"`
	Emissions     []EmissionStatus `json:"emissions"`
}
