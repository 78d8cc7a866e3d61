// Package asset implements the context-asset lifecycle manager.
//
// A context asset is a reusable piece of domain knowledge (table description,
// glossary entry, instruction, skill) identified by
// (db_connection_id, asset_type, canonical_key, version). Assets move through
// a four-state trust lifecycle — draft, verified, published, deprecated — and
// only published assets ever influence SQL synthesis.
//
// All legality rules live in one transition table consulted by a single
// transition() function; nothing else in the package decides state changes.
package asset

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors for lifecycle operations. Check with errors.Is().
var (
	// ErrNotFound indicates the requested asset or version does not exist.
	ErrNotFound = errors.New("asset not found")

	// ErrAlreadyExists indicates a canonical key already has a version 1;
	// new versions are created through Revise, not Create.
	ErrAlreadyExists = errors.New("asset already exists")

	// ErrInvalidState indicates a mutation was attempted on a non-draft asset.
	ErrInvalidState = errors.New("invalid asset state")

	// ErrInvalidTransition indicates an illegal lifecycle transition.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")

	// ErrStateChanged indicates the asset's state changed between read and
	// write; the caller should re-read and retry if still applicable.
	ErrStateChanged = errors.New("asset state changed concurrently")
)

// Type classifies a context asset.
type Type string

const (
	TypeTableDescription Type = "table_description"
	TypeGlossary         Type = "glossary"
	TypeInstruction      Type = "instruction"
	TypeSkill            Type = "skill"
)

// Valid reports whether t is a known asset type.
func (t Type) Valid() bool {
	switch t {
	case TypeTableDescription, TypeGlossary, TypeInstruction, TypeSkill:
		return true
	}
	return false
}

// State is the lifecycle (trust) stage of an asset.
type State string

const (
	StateDraft      State = "draft"
	StateVerified   State = "verified"
	StatePublished  State = "published"
	StateDeprecated State = "deprecated"
)

// VersionLatest resolves to the highest version not in deprecated state,
// falling back to the highest version overall when all are deprecated.
const VersionLatest = "latest"

// Asset is one version of a context asset.
// Only draft assets may be mutated or deleted; every non-initial version
// carries ParentAssetID pointing at the version it was revised from.
type Asset struct {
	ID            uuid.UUID
	ConnectionID  string
	Type          Type
	CanonicalKey  string
	Version       int
	Name          string
	Content       map[string]any
	ContentText   string
	State         State
	Author        string
	Tags          []string
	ParentAssetID *uuid.UUID
	PromotedBy    string
	PromotedAt    *time.Time
	ChangeNote    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// action is a lifecycle operation consulted against the transition table.
type action string

const (
	actionPromoteVerified  action = "promote_verified"
	actionPromotePublished action = "promote_published"
	actionDeprecate        action = "deprecate"
)

// transitionKey pairs a source state with an attempted action.
type transitionKey struct {
	from State
	act  action
}

// transitions is the complete legality table for lifecycle state changes.
// Promotion is forward-only; deprecation is allowed from published and, per
// curation policy, from verified. Everything absent from this table is
// rejected. Revise is not listed: it never mutates state, it creates a new
// draft row.
var transitions = map[transitionKey]State{
	{StateDraft, actionPromoteVerified}:     StateVerified,
	{StateVerified, actionPromotePublished}: StatePublished,
	{StatePublished, actionDeprecate}:       StateDeprecated,
	{StateVerified, actionDeprecate}:        StateDeprecated,
}

// transition resolves (from, act) against the table.
// The returned error names the rule violated so it can be surfaced verbatim.
func transition(from State, act action) (State, error) {
	to, ok := transitions[transitionKey{from, act}]
	if !ok {
		return "", fmt.Errorf("%w: cannot %s from %q state", ErrInvalidTransition, act, from)
	}
	return to, nil
}

// targetAction maps a requested promotion target onto a table action.
func targetAction(target State) (action, error) {
	switch target {
	case StateVerified:
		return actionPromoteVerified, nil
	case StatePublished:
		return actionPromotePublished, nil
	default:
		return "", fmt.Errorf("%w: %q is not a promotion target", ErrInvalidTransition, target)
	}
}
