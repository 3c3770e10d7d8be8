package platform

import (
	"encoding/json"
	"fmt"
)

// OpType enumerates the closed set of batch operation variants
type OpType string

// Batch operation types
const (
	// OpCreateParent creates a child-less ad set under a campaign
	OpCreateParent OpType = "create_parent"
	// OpCreateChild creates an ad under an ad set
	OpCreateChild OpType = "create_child"
	// OpDelete removes an entity by remote ID
	OpDelete OpType = "delete"
)

// Operation is one typed batch operation descriptor. The orchestrator builds
// these; the wire shape is produced by MarshalWire so orchestration logic
// stays independent of the remote format.
type Operation struct {
	Type      OpType                 `json:"type"`
	Name      string                 `json:"name"`                 // deterministic label, referenced by later ops
	ParentRef string                 `json:"parent_ref,omitempty"` // literal ID or in-batch result reference
	RemoteID  string                 `json:"remote_id,omitempty"`  // delete target
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// NewCreateParentOp builds an ad set creation operation under a campaign
func NewCreateParentOp(name, campaignID string, fields map[string]interface{}) Operation {
	return Operation{Type: OpCreateParent, Name: name, ParentRef: campaignID, Fields: fields}
}

// NewCreateChildOp builds an ad creation operation referencing its ad set
func NewCreateChildOp(name, adSetRef string, fields map[string]interface{}) Operation {
	return Operation{Type: OpCreateChild, Name: name, ParentRef: adSetRef, Fields: fields}
}

// NewDeleteOp builds a deletion operation for a remote entity
func NewDeleteOp(remoteID string) Operation {
	return Operation{Type: OpDelete, Name: "delete-" + remoteID, RemoteID: remoteID}
}

// ResultRef returns the in-batch reference to a prior operation's created ID.
// Passing it as a ParentRef links a child to a parent created in the same call.
func ResultRef(opName string) string {
	return fmt.Sprintf("{result=%s:$.id}", opName)
}

// wireOperation is the platform batch endpoint's operation shape
type wireOperation struct {
	Name        string `json:"name"`
	Method      string `json:"method"`
	RelativeURL string `json:"relative_url"`
	Body        string `json:"body,omitempty"`
}

// MarshalWire converts the typed descriptor to the platform's batch format
func (o Operation) MarshalWire() (json.RawMessage, error) {
	var wire wireOperation
	switch o.Type {
	case OpCreateParent:
		if o.ParentRef == "" {
			return nil, fmt.Errorf("ad set operation %q has no campaign reference", o.Name)
		}
		body, err := encodeFields(o.Fields, map[string]interface{}{
			"name":        o.Name,
			"campaign_id": o.ParentRef,
		})
		if err != nil {
			return nil, err
		}
		wire = wireOperation{Name: o.Name, Method: "POST", RelativeURL: "adsets", Body: body}
	case OpCreateChild:
		if o.ParentRef == "" {
			return nil, fmt.Errorf("ad operation %q has no ad set reference", o.Name)
		}
		body, err := encodeFields(o.Fields, map[string]interface{}{
			"name":     o.Name,
			"adset_id": o.ParentRef,
		})
		if err != nil {
			return nil, err
		}
		wire = wireOperation{Name: o.Name, Method: "POST", RelativeURL: "ads", Body: body}
	case OpDelete:
		if o.RemoteID == "" {
			return nil, fmt.Errorf("delete operation has no remote ID")
		}
		wire = wireOperation{Name: o.Name, Method: "DELETE", RelativeURL: o.RemoteID}
	default:
		return nil, fmt.Errorf("unknown operation type: %s", o.Type)
	}
	return json.Marshal(wire)
}

func encodeFields(fields map[string]interface{}, overrides map[string]interface{}) (string, error) {
	merged := make(map[string]interface{}, len(fields)+len(overrides))
	for k, v := range fields {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return "", fmt.Errorf("failed to encode operation body: %w", err)
	}
	return string(raw), nil
}

// OpResult is the outcome of one operation within a batch call
type OpResult struct {
	Name       string `json:"name"`
	StatusCode int    `json:"status_code"`
	ID         string `json:"id,omitempty"`
	ErrorCode  int    `json:"error_code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// OK reports whether the operation succeeded
func (r OpResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err converts a failed result into an APIError, or nil when the result is OK
func (r OpResult) Err() error {
	if r.OK() {
		return nil
	}
	return &APIError{StatusCode: r.StatusCode, Code: r.ErrorCode, Message: r.Message}
}
