// Package protocol defines the request and response types of the four-phase
// reconciliation protocol every converge Action implements.
//
// A task is driven through Validate, then Query, and then at most one of
// Create, Modify or Remove depending on the Query outcome. Only the engine
// constructs requests; Actions only read them.
package protocol

import (
	"fmt"
	"strings"
)

// RequestType is the phase an Action is asked to perform.
type RequestType int

// Phases in the order the engine drives them. Create, Modify and Remove
// are alternatives; a task reaches at most one of them.
const (
	Validate RequestType = iota
	Query
	Create
	Modify
	Remove
)

func (r RequestType) String() string {
	switch r {
	case Validate:
		return "Validate"
	case Query:
		return "Query"
	case Create:
		return "Create"
	case Modify:
		return "Modify"
	case Remove:
		return "Remove"
	default:
		return fmt.Sprintf("RequestType(%d)", int(r))
	}
}

// ChangeKind tags a single entry of a change set.
type ChangeKind int

const (
	// CreateFile fetches (or refreshes) a file. A refresh deletes the stale
	// copy and transfers it again rather than patching in place.
	CreateFile ChangeKind = iota
	// CreateFolder creates a missing folder.
	CreateFolder
	// DeleteFile and DeleteFolder remove entries absent from the source.
	DeleteFile
	DeleteFolder
	// Attribute is a module-specific change named by Change.Field.
	Attribute
)

func (k ChangeKind) String() string {
	switch k {
	case CreateFile:
		return "CreateFile"
	case CreateFolder:
		return "CreateFolder"
	case DeleteFile:
		return "DeleteFile"
	case DeleteFolder:
		return "DeleteFolder"
	case Attribute:
		return "Attribute"
	default:
		return fmt.Sprintf("ChangeKind(%d)", int(k))
	}
}

// Change is one tagged diff descriptor. Path is the path the change applies
// to; Source is the path the content comes from, when it differs.
type Change struct {
	Kind   ChangeKind
	Path   string
	Source string
	Field  string
}

func (c Change) String() string {
	switch {
	case c.Kind == Attribute:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Field)
	case c.Source != "" && c.Source != c.Path:
		return fmt.Sprintf("%s(%s <- %s)", c.Kind, c.Path, c.Source)
	default:
		return fmt.Sprintf("%s(%s)", c.Kind, c.Path)
	}
}

// NewCreateFile transfers source to path.
func NewCreateFile(source, path string) Change {
	return Change{Kind: CreateFile, Path: path, Source: source}
}

// NewCreateFolder creates the folder at path.
func NewCreateFolder(path string) Change { return Change{Kind: CreateFolder, Path: path} }

// NewDeleteFile removes the file at path.
func NewDeleteFile(path string) Change { return Change{Kind: DeleteFile, Path: path} }

// NewDeleteFolder removes the folder at path, which must be empty by the
// time it is applied.
func NewDeleteFolder(path string) Change { return Change{Kind: DeleteFolder, Path: path} }

// NewAttribute names a module-specific field that differs.
func NewAttribute(field string) Change { return Change{Kind: Attribute, Field: field} }

// FormatChanges renders a change set on a single line for reporting.
func FormatChanges(changes []Change) string {
	parts := make([]string, len(changes))
	for i, c := range changes {
		parts[i] = c.String()
	}
	return strings.Join(parts, ", ")
}

// TaskRequest carries the current phase and, for Modify, the change set the
// preceding Query produced. The Action must apply exactly these changes.
type TaskRequest struct {
	Type    RequestType
	Changes []Change
}

// NewValidateRequest, NewQueryRequest, NewCreateRequest and
// NewRemoveRequest build the requests that carry no change set.
func NewValidateRequest() *TaskRequest { return &TaskRequest{Type: Validate} }
func NewQueryRequest() *TaskRequest    { return &TaskRequest{Type: Query} }
func NewCreateRequest() *TaskRequest   { return &TaskRequest{Type: Create} }
func NewRemoveRequest() *TaskRequest   { return &TaskRequest{Type: Remove} }

// NewModifyRequest builds a Modify request carrying a copy of changes.
func NewModifyRequest(changes []Change) *TaskRequest {
	return &TaskRequest{Type: Modify, Changes: append([]Change(nil), changes...)}
}

// Status is the outcome reported by an Action for one phase.
type Status int

// Statuses. Failed and NotSupported may answer any phase. IsValidated
// answers Validate; IsMatched and the Needs* statuses answer Query; each
// Is* status after them answers the matching follow-up phase.
const (
	Failed Status = iota
	IsValidated
	IsMatched
	NeedsCreation
	NeedsModification
	NeedsRemoval
	IsCreated
	IsModified
	IsRemoved
	NotSupported
)

func (s Status) String() string {
	switch s {
	case Failed:
		return "Failed"
	case IsValidated:
		return "IsValidated"
	case IsMatched:
		return "IsMatched"
	case NeedsCreation:
		return "NeedsCreation"
	case NeedsModification:
		return "NeedsModification"
	case NeedsRemoval:
		return "NeedsRemoval"
	case IsCreated:
		return "IsCreated"
	case IsModified:
		return "IsModified"
	case IsRemoved:
		return "IsRemoved"
	case NotSupported:
		return "NotSupported"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Changed reports whether the status is a terminal status of a phase that
// altered the target.
func (s Status) Changed() bool {
	return s == IsCreated || s == IsModified || s == IsRemoved
}

// FollowUp returns the phase the engine runs after a Query that returned s,
// together with the status that phase must end in. ok is false when s does
// not call for a follow-up phase.
func (s Status) FollowUp() (next RequestType, want Status, ok bool) {
	switch s {
	case NeedsCreation:
		return Create, IsCreated, true
	case NeedsModification:
		return Modify, IsModified, true
	case NeedsRemoval:
		return Remove, IsRemoved, true
	default:
		return 0, 0, false
	}
}

// FactsOutput is the Outputs key under which a module returns facts. The
// engine merges a map found there into the host's fact layer.
const FactsOutput = "facts"

// TaskResponse is the immutable outcome of one phase. Callers must treat
// Changes and Outputs as read-only.
type TaskResponse struct {
	Status  Status
	Request RequestType
	Changes []Change
	Message string
	// Outputs holds values a module exposes for 'save', e.g. rc and out of
	// a command.
	Outputs map[string]interface{}
}

// NewTaskResponse builds a response, copying the change set.
func NewTaskResponse(req *TaskRequest, status Status, changes []Change, msg string) *TaskResponse {
	resp := &TaskResponse{Status: status, Message: msg}
	if req != nil {
		resp.Request = req.Type
	}
	if len(changes) > 0 {
		resp.Changes = append([]Change(nil), changes...)
	}
	return resp
}

// WithOutputs returns a copy of the response carrying outputs.
func (r *TaskResponse) WithOutputs(outputs map[string]interface{}) *TaskResponse {
	cp := *r
	cp.Outputs = make(map[string]interface{}, len(outputs))
	for k, v := range outputs {
		cp.Outputs[k] = v
	}
	return &cp
}

func (r *TaskResponse) String() string {
	s := r.Status.String()
	if len(r.Changes) > 0 {
		s = fmt.Sprintf("%s [%s]", s, FormatChanges(r.Changes))
	}
	if r.Message != "" {
		s = fmt.Sprintf("%s: %s", s, r.Message)
	}
	return s
}
