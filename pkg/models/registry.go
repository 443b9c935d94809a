// Package models defines the domain models shared across the registry agent.
package models

import (
	"encoding/json"
	"time"
)

// ItemSubtype identifies the kind of registry entity.
type ItemSubtype string

const (
	SubtypePerson                   ItemSubtype = "PERSON"
	SubtypeOrganisation             ItemSubtype = "ORGANISATION"
	SubtypeModel                    ItemSubtype = "MODEL"
	SubtypeDataset                  ItemSubtype = "DATASET"
	SubtypeDatasetTemplate          ItemSubtype = "DATASET_TEMPLATE"
	SubtypeModelRunWorkflowTemplate ItemSubtype = "MODEL_RUN_WORKFLOW_TEMPLATE"
	SubtypeModelRun                 ItemSubtype = "MODEL_RUN"
)

// AllSubtypes lists the subtypes accepted as search filters.
var AllSubtypes = []ItemSubtype{
	SubtypePerson,
	SubtypeOrganisation,
	SubtypeModel,
	SubtypeDataset,
	SubtypeDatasetTemplate,
	SubtypeModelRunWorkflowTemplate,
	SubtypeModelRun,
}

// ValidSubtype reports whether s names a known subtype.
func ValidSubtype(s string) bool {
	for _, st := range AllSubtypes {
		if string(st) == s {
			return true
		}
	}
	return false
}

// SearchCandidate is one ranked result from a registry search, as presented
// to the user during a search-and-select sub-flow.
type SearchCandidate struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Score float64 `json:"score,omitempty"`
}

// RegistryItem is a fetched registry record. Raw carries the full document
// so read tools can return it verbatim.
type RegistryItem struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Subtype     ItemSubtype     `json:"item_subtype"`
	Raw         json.RawMessage `json:"raw,omitempty"`
}

// HandleURL returns the resolvable handle URL for a registry identifier.
func HandleURL(id string) string {
	return "https://hdl.handle.net/" + id
}

// CreatedResource is the success payload of a mutating registry operation.
type CreatedResource struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	HandleURL   string `json:"handle_url"`
}

// InvocationRecord is one confirmed, executed operation as written to the
// audit store.
type InvocationRecord struct {
	ID           string    `json:"id"`
	Conversation string    `json:"conversation"`
	Operation    string    `json:"operation"`
	Arguments    []byte    `json:"arguments"`
	ResultID     string    `json:"result_id,omitempty"`
	Status       string    `json:"status"`
	Detail       string    `json:"detail,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Invocation status values.
const (
	InvocationSucceeded = "succeeded"
	InvocationRejected  = "rejected"
	InvocationFailed    = "failed"
)
