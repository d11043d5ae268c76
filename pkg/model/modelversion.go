package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Model is a named building model inside a project; versions hang off it.
type Model struct {
	ID          uuid.UUID `json:"id"`
	ProjectID   uuid.UUID `json:"projectId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// VersionStatus is the processing state of a model version.
type VersionStatus string

// Version states. Ready and Failed are terminal.
const (
	VersionStatusPending    VersionStatus = "pending"
	VersionStatusProcessing VersionStatus = "processing"
	VersionStatusReady      VersionStatus = "ready"
	VersionStatusFailed     VersionStatus = "failed"
)

// ModelVersion is an immutable revision of a model and the target of the
// processing pipeline. WexBimFileID and PropertiesFileID are set only on
// Ready; ErrorMessage only on Failed.
type ModelVersion struct {
	ID               uuid.UUID     `json:"id"`
	ModelID          uuid.UUID     `json:"modelId"`
	VersionNumber    int           `json:"versionNumber"`
	IfcFileID        uuid.UUID     `json:"ifcFileId"`
	Status           VersionStatus `json:"status"`
	WexBimFileID     *uuid.UUID    `json:"wexBimFileId,omitempty"`
	PropertiesFileID *uuid.UUID    `json:"propertiesFileId,omitempty"`
	ErrorMessage     string        `json:"errorMessage,omitempty"`
	ProcessedAt      *time.Time    `json:"processedAt,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}

var versionTransitions = map[VersionStatus][]VersionStatus{
	VersionStatusPending:    {VersionStatusProcessing, VersionStatusFailed},
	VersionStatusProcessing: {VersionStatusReady, VersionStatusFailed},
}

// Transition moves the version to the target status, rejecting illegal
// transitions. Readers observe Pending -> Processing -> {Ready, Failed} in
// order, each state exactly once.
func (v *ModelVersion) Transition(to VersionStatus) error {
	for _, allowed := range versionTransitions[v.Status] {
		if allowed == to {
			v.Status = to
			return nil
		}
	}
	return fmt.Errorf("model version %s: illegal transition %s -> %s", v.ID, v.Status, to)
}

// Terminal reports whether the version is in a terminal state.
func (v *ModelVersion) Terminal() bool {
	return len(versionTransitions[v.Status]) == 0
}

// MarkReady transitions to Ready, linking both artifacts and stamping
// processedAt. The error message is cleared.
func (v *ModelVersion) MarkReady(wexBimFileID, propertiesFileID uuid.UUID, now time.Time) error {
	if err := v.Transition(VersionStatusReady); err != nil {
		return err
	}
	v.WexBimFileID = &wexBimFileID
	v.PropertiesFileID = &propertiesFileID
	v.ErrorMessage = ""
	v.ProcessedAt = &now
	return nil
}

// MarkFailed transitions to Failed with a sanitized message.
func (v *ModelVersion) MarkFailed(message string, now time.Time) error {
	if err := v.Transition(VersionStatusFailed); err != nil {
		return err
	}
	v.ErrorMessage = message
	v.ProcessedAt = &now
	return nil
}
