package findings

import (
	"context"
	"database/sql"
	"maps"
	"sync"

	"github.com/openctemio/qualitygate/pkg/domain/audit"
	"github.com/openctemio/qualitygate/pkg/domain/finding"
	"github.com/openctemio/qualitygate/pkg/domain/run"
	"github.com/openctemio/qualitygate/pkg/domain/shared"
)

// mockFindingRepository implements finding.Repository in memory. Stored
// findings are copies, as a database would hold them.
type mockFindingRepository struct {
	mu        sync.RWMutex
	findings  map[string]*finding.Finding
	updateErr error
}

func newMockFindingRepository() *mockFindingRepository {
	return &mockFindingRepository{findings: make(map[string]*finding.Finding)}
}

func cloneFinding(f *finding.Finding) *finding.Finding {
	c := *f
	c.Metadata = maps.Clone(f.Metadata)
	return &c
}

func (m *mockFindingRepository) GetByID(_ context.Context, id shared.ID) (*finding.Finding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.findings[id.String()]
	if !ok {
		return nil, finding.NotFoundError(id)
	}
	return cloneFinding(f), nil
}

func (m *mockFindingRepository) Update(ctx context.Context, f *finding.Finding) error {
	return m.UpdateInTx(ctx, nil, f)
}

func (m *mockFindingRepository) Delete(_ context.Context, id shared.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.findings[id.String()]; !ok {
		return finding.NotFoundError(id)
	}
	delete(m.findings, id.String())
	return nil
}

func (m *mockFindingRepository) ListByScopeInTx(_ context.Context, _ *sql.Tx, scope run.Scope) ([]*finding.Finding, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*finding.Finding
	for _, f := range m.findings {
		if f.Scope == scope {
			out = append(out, cloneFinding(f))
		}
	}
	return out, nil
}

func (m *mockFindingRepository) CreateInTx(_ context.Context, _ *sql.Tx, f *finding.Finding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.findings {
		if existing.Scope == f.Scope && existing.Hash == f.Hash {
			return finding.AlreadyExistsError(f.Hash)
		}
	}
	m.findings[f.ID.String()] = cloneFinding(f)
	return nil
}

func (m *mockFindingRepository) UpdateInTx(_ context.Context, _ *sql.Tx, f *finding.Finding) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.findings[f.ID.String()]; !ok {
		return finding.NotFoundError(f.ID)
	}
	m.findings[f.ID.String()] = cloneFinding(f)
	return nil
}

func (m *mockFindingRepository) snapshot() map[string]*finding.Finding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]*finding.Finding, len(m.findings))
	for k, f := range m.findings {
		out[k] = cloneFinding(f)
	}
	return out
}

func (m *mockFindingRepository) restore(s map[string]*finding.Finding) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.findings = s
}

func (m *mockFindingRepository) byScope(scope run.Scope) map[string]*finding.Finding {
	out := make(map[string]*finding.Finding)
	for _, f := range m.snapshot() {
		if f.Scope == scope {
			out[f.Criterion] = f
		}
	}
	return out
}

// mockAuditRepository implements audit.Repository in memory.
type mockAuditRepository struct {
	mu      sync.RWMutex
	entries []*audit.Entry
}

func (m *mockAuditRepository) Append(_ context.Context, entry *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepository) AppendInTx(ctx context.Context, _ *sql.Tx, entry *audit.Entry) error {
	return m.Append(ctx, entry)
}

func (m *mockAuditRepository) ListByResource(_ context.Context, namespaceID int64, resourceType audit.ResourceType, resourceID string) ([]*audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*audit.Entry
	for _, e := range m.entries {
		if e.NamespaceID() == namespaceID && e.ResourceType() == resourceType && e.ResourceID() == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *mockAuditRepository) count(action audit.Action) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if e.Action() == action {
			n++
		}
	}
	return n
}

// mockTransactor restores the finding repository when fn fails.
type mockTransactor struct {
	repo *mockFindingRepository
}

func (m *mockTransactor) Transaction(_ context.Context, fn func(tx *sql.Tx) error) error {
	saved := m.repo.snapshot()
	if err := fn(nil); err != nil {
		m.repo.restore(saved)
		return err
	}
	return nil
}
