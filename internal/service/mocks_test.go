package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tulivucare/tulivu-backend/internal/cache"
	"github.com/tulivucare/tulivu-backend/internal/domain"
	"github.com/tulivucare/tulivu-backend/internal/forms"
	"github.com/tulivucare/tulivu-backend/internal/mpesa"
	"github.com/tulivucare/tulivu-backend/internal/repository"
)

// MockRepository is an in-memory repository.BookingRepository that honors
// the version compare-and-swap, so the retry paths can be exercised without
// a database.
type MockRepository struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*domain.Session
	payments []*domain.Payment
	calls    map[uuid.UUID]*domain.VideoCall
	outbox   []*repository.OutboxEvent
	nextID   int64

	// ConflictNextUpdate makes the next UpdateSessionState lose the CAS
	// without changing anything, simulating a concurrent writer.
	ConflictNextUpdate bool
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		sessions: make(map[uuid.UUID]*domain.Session),
		calls:    make(map[uuid.UUID]*domain.VideoCall),
	}
}

func (m *MockRepository) CreateSession(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *session
	if copied.Version == 0 {
		copied.Version = 1
	}
	m.sessions[session.ID] = &copied
	return nil
}

func (m *MockRepository) GetSession(_ context.Context, id uuid.UUID) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, repository.ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

func (m *MockRepository) UpdateSessionState(_ context.Context, id uuid.UUID, expectedVersion int64, next domain.SessionState, eventPayload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	if m.ConflictNextUpdate {
		m.ConflictNextUpdate = false
		session.Version++ // the concurrent writer's bump
		return repository.ErrVersionConflict
	}
	if session.Version != expectedVersion {
		return repository.ErrVersionConflict
	}
	session.State = next
	session.Version++
	if eventPayload != nil {
		m.nextID++
		m.outbox = append(m.outbox, &repository.OutboxEvent{
			ID:          m.nextID,
			AggregateID: id.String(),
			EventType:   "session." + string(next),
			Payload:     eventPayload,
			CreatedAt:   time.Now(),
		})
	}
	return nil
}

func (m *MockRepository) SetIntakeFormsComplete(_ context.Context, id uuid.UUID, complete bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return repository.ErrSessionNotFound
	}
	session.IntakeFormsComplete = complete
	return nil
}

func (m *MockRepository) CreatePayment(_ context.Context, payment *domain.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *payment
	copied.CreatedAt = time.Now()
	m.payments = append(m.payments, &copied)
	return nil
}

func (m *MockRepository) GetPayment(_ context.Context, id uuid.UUID) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ID == id {
			copied := *p
			return &copied, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (m *MockRepository) GetLatestPaymentForSession(_ context.Context, sessionID uuid.UUID) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.payments) - 1; i >= 0; i-- {
		if m.payments[i].SessionID == sessionID {
			copied := *m.payments[i]
			return &copied, nil
		}
	}
	return nil, repository.ErrPaymentNotFound
}

func (m *MockRepository) UpdatePaymentState(_ context.Context, id uuid.UUID, next domain.PaymentState, mpesaRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ID == id {
			p.State = next
			if mpesaRef != "" {
				p.MpesaRef = mpesaRef
			}
			return nil
		}
	}
	return repository.ErrPaymentNotFound
}

func (m *MockRepository) GetVideoCall(_ context.Context, sessionID uuid.UUID) (*domain.VideoCall, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call, ok := m.calls[sessionID]
	if !ok {
		return nil, repository.ErrVideoCallNotFound
	}
	copied := *call
	return &copied, nil
}

func (m *MockRepository) CreateVideoCall(_ context.Context, call *domain.VideoCall) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.calls[call.SessionID]; exists {
		return nil
	}
	copied := *call
	m.calls[call.SessionID] = &copied
	return nil
}

func (m *MockRepository) UpdateVideoCallState(_ context.Context, id uuid.UUID, current, next domain.VideoState, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, call := range m.calls {
		if call.ID == id {
			if call.State != current {
				return repository.ErrVersionConflict
			}
			call.State = next
			return nil
		}
	}
	return repository.ErrVideoCallNotFound
}

func (m *MockRepository) GetUnprocessedEvents(_ context.Context, limit int) ([]*repository.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.outbox) > limit {
		return m.outbox[:limit], nil
	}
	return m.outbox, nil
}

func (m *MockRepository) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, event := range m.outbox {
		if event.ID == id {
			m.outbox = append(m.outbox[:i], m.outbox[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MockRepository) AppendOutboxEvent(_ context.Context, aggregateID uuid.UUID, eventType string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	m.outbox = append(m.outbox, &repository.OutboxEvent{
		ID:          m.nextID,
		AggregateID: aggregateID.String(),
		EventType:   eventType,
		Payload:     payload,
		CreatedAt:   time.Now(),
	})
	return nil
}

func (m *MockRepository) GetStuckSessions(context.Context) ([]*domain.Session, error) {
	return nil, nil
}

func (m *MockRepository) RunMigrations(*repository.Credentials) error { return nil }
func (m *MockRepository) Close() error                                { return nil }

func (m *MockRepository) OutboxLen() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outbox)
}

// MockCache is a map-backed cache.SessionCache.
type MockCache struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	Deletes  []string
}

func NewMockCache() *MockCache {
	return &MockCache{sessions: make(map[string]*domain.Session)}
}

func (m *MockCache) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return session, nil
}

func (m *MockCache) Set(_ context.Context, session *domain.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID.String()] = session
	return nil
}

func (m *MockCache) Delete(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	m.Deletes = append(m.Deletes, sessionID)
	return nil
}

// MockFormStore is a forms.Store with a fixed completion answer.
type MockFormStore struct {
	Forms     map[uuid.UUID]*forms.IntakeForm
	Completed map[uuid.UUID]bool
}

func NewMockFormStore() *MockFormStore {
	return &MockFormStore{
		Forms:     make(map[uuid.UUID]*forms.IntakeForm),
		Completed: make(map[uuid.UUID]bool),
	}
}

func (m *MockFormStore) Get(_ context.Context, sessionID uuid.UUID) (*forms.IntakeForm, error) {
	form, ok := m.Forms[sessionID]
	if !ok {
		return nil, forms.ErrFormNotFound
	}
	return form, nil
}

func (m *MockFormStore) Upsert(_ context.Context, form *forms.IntakeForm) error {
	m.Forms[form.SessionID] = form
	m.Completed[form.SessionID] = form.Submitted
	return nil
}

func (m *MockFormStore) Complete(_ context.Context, sessionID uuid.UUID) (bool, error) {
	return m.Completed[sessionID], nil
}

// MockPusher captures STK push requests and returns a canned response.
type MockPusher struct {
	Response *mpesa.STKPushResponse
	Err      error
	Requests []*mpesa.STKPushRequest
}

func (m *MockPusher) Push(_ context.Context, req *mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	m.Requests = append(m.Requests, req)
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Response != nil {
		return m.Response, nil
	}
	return &mpesa.STKPushResponse{ResponseCode: "0", CheckoutRequestID: "ws_CO_test"}, nil
}
