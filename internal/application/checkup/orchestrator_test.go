package checkup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/webcheckup/webcheckup/internal/domain/chat"
	domain "github.com/webcheckup/webcheckup/internal/domain/checkup"
	"github.com/webcheckup/webcheckup/internal/executor"
	"github.com/webcheckup/webcheckup/internal/probe"
	sharedErrors "github.com/webcheckup/webcheckup/internal/shared/errors"
)

type storedCheck struct {
	id          string
	checkupID   string
	checkType   domain.CheckType
	status      domain.Status
	results     map[string]any
	description string
}

type storedCheckup struct {
	id        string
	url       string
	ownerID   string
	createdAt time.Time
	checkIDs  []string
}

// memCheckupRepo is an in-memory checkup.Repository with the same guarded
// transitions as the SQLite implementation.
type memCheckupRepo struct {
	mu           sync.Mutex
	checkups     map[string]*storedCheckup
	checks       map[string]*storedCheck
	failSaveFor  map[domain.CheckType]bool
	failComplete bool
}

func newMemCheckupRepo() *memCheckupRepo {
	return &memCheckupRepo{
		checkups: make(map[string]*storedCheckup),
		checks:   make(map[string]*storedCheck),
	}
}

func (r *memCheckupRepo) SaveCheckup(_ context.Context, cu *domain.Checkup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkups[cu.ID()] = &storedCheckup{
		id:        cu.ID(),
		url:       cu.URL(),
		ownerID:   cu.OwnerID(),
		createdAt: cu.CreatedAt(),
	}
	return nil
}

func (r *memCheckupRepo) CheckupByID(_ context.Context, id string) (*domain.Checkup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.checkups[id]
	if !ok {
		return nil, sharedErrors.ErrCheckupNotFound
	}
	checks := make([]*domain.Check, 0, len(stored.checkIDs))
	for _, checkID := range stored.checkIDs {
		checks = append(checks, r.reconstructCheck(r.checks[checkID]))
	}
	return domain.ReconstructCheckup(stored.id, stored.url, stored.ownerID, stored.createdAt, checks), nil
}

func (r *memCheckupRepo) CheckupsByOwner(_ context.Context, ownerID string) ([]*domain.Checkup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Checkup
	for _, stored := range r.checkups {
		if stored.ownerID == ownerID {
			out = append(out, domain.ReconstructCheckup(stored.id, stored.url, stored.ownerID, stored.createdAt, nil))
		}
	}
	return out, nil
}

func (r *memCheckupRepo) SaveCheck(_ context.Context, c *domain.Check) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSaveFor[c.Type()] {
		return fmt.Errorf("%w: save check", sharedErrors.ErrRepositoryOperation)
	}
	r.checks[c.ID()] = &storedCheck{
		id:        c.ID(),
		checkupID: c.CheckupID(),
		checkType: c.Type(),
		status:    c.Status(),
	}
	if cu, ok := r.checkups[c.CheckupID()]; ok {
		cu.checkIDs = append(cu.checkIDs, c.ID())
	}
	return nil
}

func (r *memCheckupRepo) MarkCheckRunning(_ context.Context, checkID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.checks[checkID]
	if !ok {
		return sharedErrors.ErrCheckNotFound
	}
	if stored.status != domain.StatusCreated {
		return sharedErrors.ErrCheckNotCreated
	}
	stored.status = domain.StatusRunning
	return nil
}

func (r *memCheckupRepo) CompleteCheckWithResults(_ context.Context, checkID string, results map[string]any, description string) error {
	return r.finish(checkID, domain.StatusCompleted, results, description)
}

func (r *memCheckupRepo) CompleteCheckWithFailure(_ context.Context, checkID string, failure map[string]any) error {
	return r.finish(checkID, domain.StatusFailed, failure, "")
}

func (r *memCheckupRepo) finish(checkID string, status domain.Status, results map[string]any, description string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failComplete {
		return fmt.Errorf("%w: storage offline", sharedErrors.ErrRepositoryOperation)
	}
	stored, ok := r.checks[checkID]
	if !ok {
		return sharedErrors.ErrCheckNotFound
	}
	if stored.status.IsTerminal() {
		return sharedErrors.ErrCheckFinished
	}
	if stored.status != domain.StatusRunning {
		return sharedErrors.ErrCheckNotRunning
	}
	stored.status = status
	stored.results = results
	stored.description = description
	return nil
}

func (r *memCheckupRepo) CheckByID(_ context.Context, id string) (*domain.Check, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.checks[id]
	if !ok {
		return nil, sharedErrors.ErrCheckNotFound
	}
	return r.reconstructCheck(stored), nil
}

func (r *memCheckupRepo) reconstructCheck(stored *storedCheck) *domain.Check {
	return domain.ReconstructCheck(stored.id, stored.checkupID, stored.checkType, stored.status, stored.results, stored.description)
}

// memChatRepo is an in-memory chat.Repository.
type memChatRepo struct {
	mu       sync.Mutex
	chats    map[string]*chat.Chat // keyed by check id
	messages map[string][]*chat.Message
}

func newMemChatRepo() *memChatRepo {
	return &memChatRepo{
		chats:    make(map[string]*chat.Chat),
		messages: make(map[string][]*chat.Message),
	}
}

func (r *memChatRepo) SaveChat(_ context.Context, ch *chat.Chat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats[ch.CheckID()] = ch
	return nil
}

func (r *memChatRepo) ChatByCheckID(_ context.Context, checkID string) (*chat.Chat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.chats[checkID]
	if !ok {
		return nil, sharedErrors.ErrChatNotFound
	}
	return ch, nil
}

func (r *memChatRepo) SaveMessage(_ context.Context, m *chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[m.ChatID()] = append(r.messages[m.ChatID()], m)
	return nil
}

func (r *memChatRepo) AppendMessageContent(_ context.Context, messageID, part string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, msgs := range r.messages {
		for _, m := range msgs {
			if m.ID() == messageID {
				m.AppendContent(part)
				return nil
			}
		}
	}
	return sharedErrors.ErrMessageNotFound
}

func (r *memChatRepo) MessagesByChatID(_ context.Context, chatID string) ([]*chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*chat.Message(nil), r.messages[chatID]...), nil
}

func (r *memChatRepo) DeleteMessagesByChatID(_ context.Context, chatID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	deleted := int64(len(r.messages[chatID]))
	delete(r.messages, chatID)
	return deleted, nil
}

// fakeProber returns a fixed payload or error, optionally blocking first.
type fakeProber struct {
	checkType domain.CheckType
	payload   map[string]any
	err       error
	block     chan struct{}
}

func (f *fakeProber) Type() domain.CheckType {
	return f.checkType
}

func (f *fakeProber) Run(ctx context.Context, target string) (map[string]any, error) {
	if f.block != nil {
		<-f.block
	}
	return f.payload, f.err
}

func happyRegistry() *probe.Registry {
	probers := make([]probe.Prober, 0, 5)
	for _, checkType := range domain.AllCheckTypes() {
		probers = append(probers, &fakeProber{
			checkType: checkType,
			payload:   map[string]any{"check": string(checkType)},
		})
	}
	return probe.NewRegistry(probers...)
}

type fakeSummarizer struct {
	err   error
	calls int
	mu    sync.Mutex
}

func (f *fakeSummarizer) Summarize(_ context.Context, checkType domain.CheckType, _ map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return "summary for " + string(checkType), nil
}

func TestStartCheckupCreatesAllChecksWithChats(t *testing.T) {
	checkupRepo := newMemCheckupRepo()
	chatRepo := newMemChatRepo()
	pool := executor.NewPool(2, nil)
	defer pool.Close()

	o := NewOrchestrator(checkupRepo, chatRepo, happyRegistry(), pool, &fakeSummarizer{}, nil)

	cu, err := o.StartCheckup(context.Background(), "https://example.com", "owner-1")
	if err != nil {
		t.Fatalf("start checkup: %v", err)
	}

	checks := cu.Checks()
	if len(checks) != 5 {
		t.Fatalf("expected 5 checks, got %d", len(checks))
	}
	for _, chk := range checks {
		if chk.Status() != domain.StatusRunning {
			t.Errorf("%s: status = %q, want running at return time", chk.Type(), chk.Status())
		}
		if chk.Chat() == nil {
			t.Errorf("%s: no chat attached", chk.Type())
		}
		if _, err := chatRepo.ChatByCheckID(context.Background(), chk.ID()); err != nil {
			t.Errorf("%s: chat not persisted: %v", chk.Type(), err)
		}
	}

	o.Drain()

	for _, chk := range checks {
		stored, err := checkupRepo.CheckByID(context.Background(), chk.ID())
		if err != nil {
			t.Fatalf("load check: %v", err)
		}
		if stored.Status() != domain.StatusCompleted {
			t.Errorf("%s: status = %q after drain, want completed", chk.Type(), stored.Status())
		}
		if stored.Results()["check"] != string(chk.Type()) {
			t.Errorf("%s: stored results = %v", chk.Type(), stored.Results())
		}
		if stored.ResultsDescription() != "summary for "+string(chk.Type()) {
			t.Errorf("%s: description = %q", chk.Type(), stored.ResultsDescription())
		}
	}
}

func TestStartCheckupReturnsBeforeProbesFinish(t *testing.T) {
	checkupRepo := newMemCheckupRepo()
	chatRepo := newMemChatRepo()
	pool := executor.NewPool(5, nil)
	defer pool.Close()

	block := make(chan struct{})
	probers := make([]probe.Prober, 0, 5)
	for _, checkType := range domain.AllCheckTypes() {
		probers = append(probers, &fakeProber{
			checkType: checkType,
			payload:   map[string]any{"ok": true},
			block:     block,
		})
	}
	o := NewOrchestrator(checkupRepo, chatRepo, probe.NewRegistry(probers...), pool, &fakeSummarizer{}, nil)

	done := make(chan struct{})
	var cu *domain.Checkup
	go func() {
		defer close(done)
		var err error
		cu, err = o.StartCheckup(context.Background(), "https://example.com", "owner-1")
		if err != nil {
			t.Errorf("start checkup: %v", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("StartCheckup blocked on probe execution")
	}

	for _, chk := range cu.Checks() {
		stored, _ := checkupRepo.CheckByID(context.Background(), chk.ID())
		if stored.Status() != domain.StatusRunning {
			t.Errorf("%s: status = %q while probe in flight", chk.Type(), stored.Status())
		}
	}

	close(block)
	o.Drain()

	for _, chk := range cu.Checks() {
		stored, _ := checkupRepo.CheckByID(context.Background(), chk.ID())
		if stored.Status() != domain.StatusCompleted {
			t.Errorf("%s: status = %q after drain", chk.Type(), stored.Status())
		}
	}
}

func TestCheckupSurvivesCallerContextCancellation(t *testing.T) {
	checkupRepo := newMemCheckupRepo()
	chatRepo := newMemChatRepo()
	// One worker keeps four of the five probes queued behind the first.
	pool := executor.NewPool(1, nil)
	defer pool.Close()

	block := make(chan struct{})
	probers := make([]probe.Prober, 0, 5)
	for _, checkType := range domain.AllCheckTypes() {
		probers = append(probers, &fakeProber{
			checkType: checkType,
			payload:   map[string]any{"ok": true},
			block:     block,
		})
	}
	o := NewOrchestrator(checkupRepo, chatRepo, probe.NewRegistry(probers...), pool, &fakeSummarizer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cu, err := o.StartCheckup(ctx, "https://example.com", "owner-1")
	if err != nil {
		t.Fatalf("start checkup: %v", err)
	}
	// The HTTP layer cancels the request context as soon as the response
	// is written; queued probes must keep waiting for a worker.
	cancel()

	close(block)
	o.Drain()

	for _, chk := range cu.Checks() {
		stored, _ := checkupRepo.CheckByID(context.Background(), chk.ID())
		if stored.Status() != domain.StatusCompleted {
			t.Errorf("%s: status = %q after caller cancellation, want completed (results: %v)",
				chk.Type(), stored.Status(), stored.Results())
		}
	}
}

func TestFailedProbeStoresExceptionPayload(t *testing.T) {
	checkupRepo := newMemCheckupRepo()
	chatRepo := newMemChatRepo()
	pool := executor.NewPool(2, nil)
	defer pool.Close()

	probers := make([]probe.Prober, 0, 5)
	for _, checkType := range domain.AllCheckTypes() {
		p := &fakeProber{checkType: checkType, payload: map[string]any{"ok": true}}
		if checkType == domain.TypeCookie {
			p.payload = nil
			p.err = errors.New("scanner unreachable")
		}
		probers = append(probers, p)
	}
	summ := &fakeSummarizer{}
	o := NewOrchestrator(checkupRepo, chatRepo, probe.NewRegistry(probers...), pool, summ, nil)

	cu, err := o.StartCheckup(context.Background(), "https://example.com", "owner-1")
	if err != nil {
		t.Fatalf("start checkup: %v", err)
	}
	o.Drain()

	failed := 0
	for _, chk := range cu.Checks() {
		stored, _ := checkupRepo.CheckByID(context.Background(), chk.ID())
		if chk.Type() == domain.TypeCookie {
			failed++
			if stored.Status() != domain.StatusFailed {
				t.Errorf("cookie check status = %q, want failed", stored.Status())
			}
			if stored.Results()["exception"] != "scanner unreachable" {
				t.Errorf("failure payload = %v", stored.Results())
			}
			if stored.ResultsDescription() != "" {
				t.Errorf("failed check should have no description, got %q", stored.ResultsDescription())
			}
			continue
		}
		if stored.Status() != domain.StatusCompleted {
			t.Errorf("%s: status = %q, want completed", chk.Type(), stored.Status())
		}
	}
	if failed != 1 {
		t.Fatalf("expected one cookie check, found %d", failed)
	}
	if summ.calls != 4 {
		t.Errorf("summarizer calls = %d, want 4 (failed checks are not summarized)", summ.calls)
	}
}

func TestCheckCreationFailureSkipsType(t *testing.T) {
	checkupRepo := newMemCheckupRepo()
	checkupRepo.failSaveFor = map[domain.CheckType]bool{domain.TypeLighthouse: true}
	chatRepo := newMemChatRepo()
	pool := executor.NewPool(2, nil)
	defer pool.Close()

	o := NewOrchestrator(checkupRepo, chatRepo, happyRegistry(), pool, &fakeSummarizer{}, nil)

	cu, err := o.StartCheckup(context.Background(), "https://example.com", "owner-1")
	if err != nil {
		t.Fatalf("start checkup should not fail when one check cannot be created: %v", err)
	}
	o.Drain()

	checks := cu.Checks()
	if len(checks) != 4 {
		t.Fatalf("expected 4 checks, got %d", len(checks))
	}
	for _, chk := range checks {
		if chk.Type() == domain.TypeLighthouse {
			t.Error("lighthouse check should have been skipped")
		}
	}
}

func TestSummarizerFailureLeavesCheckRunning(t *testing.T) {
	checkupRepo := newMemCheckupRepo()
	chatRepo := newMemChatRepo()
	pool := executor.NewPool(2, nil)
	defer pool.Close()

	summ := &fakeSummarizer{err: errors.New("model overloaded")}
	o := NewOrchestrator(checkupRepo, chatRepo, happyRegistry(), pool, summ, nil)

	cu, err := o.StartCheckup(context.Background(), "https://example.com", "owner-1")
	if err != nil {
		t.Fatalf("start checkup: %v", err)
	}
	o.Drain()

	for _, chk := range cu.Checks() {
		stored, _ := checkupRepo.CheckByID(context.Background(), chk.ID())
		if stored.Status() != domain.StatusRunning {
			t.Errorf("%s: status = %q, want running when summarization fails", chk.Type(), stored.Status())
		}
	}
}

func TestStorageFailureLeavesCheckRunning(t *testing.T) {
	checkupRepo := newMemCheckupRepo()
	chatRepo := newMemChatRepo()
	pool := executor.NewPool(2, nil)
	defer pool.Close()

	block := make(chan struct{})
	probers := make([]probe.Prober, 0, 5)
	for _, checkType := range domain.AllCheckTypes() {
		probers = append(probers, &fakeProber{
			checkType: checkType,
			payload:   map[string]any{"ok": true},
			block:     block,
		})
	}
	o := NewOrchestrator(checkupRepo, chatRepo, probe.NewRegistry(probers...), pool, &fakeSummarizer{}, nil)

	cu, err := o.StartCheckup(context.Background(), "https://example.com", "owner-1")
	if err != nil {
		t.Fatalf("start checkup: %v", err)
	}

	checkupRepo.mu.Lock()
	checkupRepo.failComplete = true
	checkupRepo.mu.Unlock()
	close(block)
	o.Drain()

	checkupRepo.mu.Lock()
	checkupRepo.failComplete = false
	checkupRepo.mu.Unlock()
	for _, chk := range cu.Checks() {
		stored, _ := checkupRepo.CheckByID(context.Background(), chk.ID())
		if stored.Status() != domain.StatusRunning {
			t.Errorf("%s: status = %q, want running when the commit fails", chk.Type(), stored.Status())
		}
	}
}

func TestStartCheckupValidation(t *testing.T) {
	checkupRepo := newMemCheckupRepo()
	chatRepo := newMemChatRepo()
	pool := executor.NewPool(1, nil)
	defer pool.Close()

	o := NewOrchestrator(checkupRepo, chatRepo, happyRegistry(), pool, &fakeSummarizer{}, nil)

	if _, err := o.StartCheckup(context.Background(), "not-a-url", "owner-1"); !errors.Is(err, sharedErrors.ErrInvalidTargetURL) {
		t.Errorf("bad url: got %v, want ErrInvalidTargetURL", err)
	}
	if _, err := o.StartCheckup(context.Background(), "https://example.com", ""); !errors.Is(err, sharedErrors.ErrEmptyOwner) {
		t.Errorf("empty owner: got %v, want ErrEmptyOwner", err)
	}
}

func TestOwnershipEnforcement(t *testing.T) {
	checkupRepo := newMemCheckupRepo()
	chatRepo := newMemChatRepo()
	pool := executor.NewPool(2, nil)
	defer pool.Close()

	o := NewOrchestrator(checkupRepo, chatRepo, happyRegistry(), pool, &fakeSummarizer{}, nil)

	cu, err := o.StartCheckup(context.Background(), "https://example.com", "owner-1")
	if err != nil {
		t.Fatalf("start checkup: %v", err)
	}
	o.Drain()
	checkID := cu.Checks()[0].ID()

	if _, err := o.CheckupForOwner(context.Background(), cu.ID(), "owner-2"); !errors.Is(err, sharedErrors.ErrCheckupForbidden) {
		t.Errorf("foreign owner: got %v, want ErrCheckupForbidden", err)
	}
	if _, err := o.CheckupForOwner(context.Background(), "missing", "owner-1"); !errors.Is(err, sharedErrors.ErrCheckupNotFound) {
		t.Errorf("missing checkup: got %v, want ErrCheckupNotFound", err)
	}

	chk, err := o.CheckForOwner(context.Background(), cu.ID(), checkID, "owner-1")
	if err != nil {
		t.Fatalf("check for owner: %v", err)
	}
	if chk.ID() != checkID {
		t.Errorf("got check %q, want %q", chk.ID(), checkID)
	}
	if _, err := o.CheckForOwner(context.Background(), cu.ID(), "missing", "owner-1"); !errors.Is(err, sharedErrors.ErrCheckNotFound) {
		t.Errorf("missing check: got %v, want ErrCheckNotFound", err)
	}
	if _, err := o.CheckForOwner(context.Background(), cu.ID(), checkID, "owner-2"); !errors.Is(err, sharedErrors.ErrCheckupForbidden) {
		t.Errorf("foreign owner check: got %v, want ErrCheckupForbidden", err)
	}
}
