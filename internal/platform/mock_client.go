package platform

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
)

// MockClient implements a scriptable in-memory platform for testing. Entities
// are stored in maps; failure behavior is injected per operation name or
// globally.
type MockClient struct {
	mu sync.Mutex

	entities    map[string]*mockEntity
	idSeq       int
	usage       UsageSnapshot
	batchCalls  int
	deleteCalls []string

	// FailOps maps an operation name to the result it should fail with
	FailOps map[string]OpResult
	// FailCreate, when set, fails every CreateEntity call with this error
	FailCreate error
	// FailBatch, when set, fails the whole BatchSubmit call
	FailBatch error
	// FailDelete maps a remote ID to the error its deletion should return
	FailDelete map[string]error
}

type mockEntity struct {
	id       string
	kind     EntityKind
	parentID string
}

var _ Client = &MockClient{}

// NewMockClient creates a new mock platform client
func NewMockClient() *MockClient {
	return &MockClient{
		entities:   make(map[string]*mockEntity),
		FailOps:    make(map[string]OpResult),
		FailDelete: make(map[string]error),
	}
}

func (m *MockClient) nextID(kind EntityKind) string {
	m.idSeq++
	return fmt.Sprintf("%s-%d", kind, m.idSeq)
}

// CreateEntity creates a single entity in the mock store
func (m *MockClient) CreateEntity(_ context.Context, kind EntityKind, parentRef string, _ map[string]interface{}) (RemoteEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreate != nil {
		return RemoteEntity{}, m.FailCreate
	}
	if kind != KindCampaign {
		if _, ok := m.entities[parentRef]; !ok {
			return RemoteEntity{}, &APIError{StatusCode: http.StatusBadRequest, Code: codeInvalidParameter, Message: "unknown parent " + parentRef}
		}
	}
	id := m.nextID(kind)
	m.entities[id] = &mockEntity{id: id, kind: kind, parentID: parentRef}
	return RemoteEntity{ID: id}, nil
}

// DeleteEntity removes an entity from the mock store
func (m *MockClient) DeleteEntity(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deleteCalls = append(m.deleteCalls, id)
	if err, ok := m.FailDelete[id]; ok {
		return err
	}
	if _, ok := m.entities[id]; !ok {
		return ErrNotFound
	}
	m.cascadeDelete(id)
	return nil
}

// cascadeDelete removes an entity and everything under it, matching the
// platform's container semantics
func (m *MockClient) cascadeDelete(id string) {
	delete(m.entities, id)
	for childID, e := range m.entities {
		if e.parentID == id {
			m.cascadeDelete(childID)
		}
	}
}

// BatchSubmit executes operations against the mock store, honoring scripted
// per-operation failures and in-batch result references
func (m *MockClient) BatchSubmit(_ context.Context, ops []Operation) ([]OpResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.batchCalls++
	if m.FailBatch != nil {
		return nil, m.FailBatch
	}

	results := make([]OpResult, 0, len(ops))
	created := make(map[string]string, len(ops)) // op name -> created ID

	for _, op := range ops {
		if fail, ok := m.FailOps[op.Name]; ok {
			fail.Name = op.Name
			results = append(results, fail)
			continue
		}

		switch op.Type {
		case OpCreateParent:
			campaignID := m.resolveRef(op.ParentRef, created)
			if _, ok := m.entities[campaignID]; !ok {
				results = append(results, OpResult{
					Name:       op.Name,
					StatusCode: http.StatusBadRequest,
					ErrorCode:  codeInvalidParameter,
					Message:    "unknown campaign " + campaignID,
				})
				continue
			}
			id := m.nextID(KindAdSet)
			m.entities[id] = &mockEntity{id: id, kind: KindAdSet, parentID: campaignID}
			created[op.Name] = id
			results = append(results, OpResult{Name: op.Name, StatusCode: http.StatusOK, ID: id})

		case OpCreateChild:
			parentID := m.resolveRef(op.ParentRef, created)
			if _, ok := m.entities[parentID]; !ok {
				results = append(results, OpResult{
					Name:       op.Name,
					StatusCode: http.StatusBadRequest,
					ErrorCode:  codeInvalidParameter,
					Message:    "unknown ad set " + parentID,
				})
				continue
			}
			id := m.nextID(KindAd)
			m.entities[id] = &mockEntity{id: id, kind: KindAd, parentID: parentID}
			created[op.Name] = id
			results = append(results, OpResult{Name: op.Name, StatusCode: http.StatusOK, ID: id})

		case OpDelete:
			m.deleteCalls = append(m.deleteCalls, op.RemoteID)
			if _, ok := m.entities[op.RemoteID]; !ok {
				results = append(results, OpResult{Name: op.Name, StatusCode: http.StatusNotFound, Message: "entity not found"})
				continue
			}
			m.cascadeDelete(op.RemoteID)
			results = append(results, OpResult{Name: op.Name, StatusCode: http.StatusOK})

		default:
			results = append(results, OpResult{Name: op.Name, StatusCode: http.StatusBadRequest, Message: "unknown operation"})
		}
	}

	return results, nil
}

// resolveRef resolves an in-batch result reference against operations already
// executed in this batch; literal IDs pass through
func (m *MockClient) resolveRef(ref string, created map[string]string) string {
	if !strings.HasPrefix(ref, "{result=") {
		return ref
	}
	name := strings.TrimPrefix(ref, "{result=")
	name = strings.TrimSuffix(name, ":$.id}")
	return created[name]
}

// CountChildren returns the number of ads under a campaign
func (m *MockClient) CountChildren(_ context.Context, parentID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entities[parentID]; !ok {
		return 0, ErrNotFound
	}
	count := 0
	for _, e := range m.entities {
		if e.kind != KindAd {
			continue
		}
		if e.parentID == parentID {
			count++
			continue
		}
		if adSet, ok := m.entities[e.parentID]; ok && adSet.parentID == parentID {
			count++
		}
	}
	return count, nil
}

// Usage returns the configured usage snapshot
func (m *MockClient) Usage() UsageSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage
}

// SetUsage scripts the usage snapshot returned by Usage
func (m *MockClient) SetUsage(u UsageSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = u
}

// EntityCount returns how many entities of a kind survive in the mock store
func (m *MockClient) EntityCount(kind EntityKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, e := range m.entities {
		if e.kind == kind {
			count++
		}
	}
	return count
}

// Exists reports whether an entity survives in the mock store
func (m *MockClient) Exists(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entities[id]
	return ok
}

// BatchCalls returns how many batch calls were made
func (m *MockClient) BatchCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batchCalls
}

// DeleteCalls returns the remote IDs deletion was attempted for, in order
func (m *MockClient) DeleteCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleteCalls...)
}
