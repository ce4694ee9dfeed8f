package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/partsflow/approval-engine/internal/domain"
	"github.com/partsflow/approval-engine/internal/mailer"
	"github.com/partsflow/approval-engine/internal/notify"
	"github.com/partsflow/approval-engine/internal/repository"
)

type memTrackingRepo struct {
	mu         sync.Mutex
	records    map[string]*domain.TrackingRecord
	createErrs []error
	nextID     int
}

func newMemTrackingRepo() *memTrackingRepo {
	return &memTrackingRepo{records: make(map[string]*domain.TrackingRecord)}
}

func (r *memTrackingRepo) Create(ctx context.Context, record *domain.TrackingRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return err
		}
	}
	if err := record.Validate(); err != nil {
		return err
	}
	if _, exists := r.records[record.TrackingCode]; exists {
		return domain.ErrDuplicateTrackingCode
	}

	r.nextID++
	record.ID = fmt.Sprintf("record-%d", r.nextID)
	stored := *record
	r.records[record.TrackingCode] = &stored
	return nil
}

func (r *memTrackingRepo) GetByCode(ctx context.Context, code string) (*domain.TrackingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[code]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (r *memTrackingRepo) GetByCodeForUpdate(ctx context.Context, code string) (*domain.TrackingRecord, error) {
	return r.GetByCode(ctx, code)
}

func (r *memTrackingRepo) UpdateStatus(ctx context.Context, code string, status domain.ApprovalStatus, approvalEmail *string) (*domain.TrackingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[code]
	if !ok {
		return nil, domain.ErrNotFound
	}

	record.Status = status
	if status != domain.ApprovalPending {
		now := time.Now().UTC()
		record.ApprovalDate = &now
	}
	if approvalEmail != nil && *approvalEmail != "" {
		email := *approvalEmail
		record.ApprovalEmail = &email
	}

	copied := *record
	return &copied, nil
}

func (r *memTrackingRepo) UpdateReroutingInfo(ctx context.Context, code string, reroutedTo string, reroutedCode string) (*domain.TrackingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[code]
	if !ok {
		return nil, domain.ErrNotFound
	}

	now := time.Now().UTC()
	record.ReroutedTo = &reroutedTo
	record.ReroutedDate = &now
	record.ReroutedTrackingCode = &reroutedCode

	copied := *record
	return &copied, nil
}

func (r *memTrackingRepo) GetHistory(ctx context.Context, poID int64) ([]domain.TrackingRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.TrackingRecord
	for _, record := range r.records {
		if record.POID == poID {
			out = append(out, *record)
		}
	}
	return out, nil
}

type memPORepo struct {
	mu     sync.Mutex
	orders map[int64]*domain.PurchaseOrder
}

func newMemPORepo() *memPORepo {
	return &memPORepo{orders: make(map[int64]*domain.PurchaseOrder)}
}

func (r *memPORepo) GetByID(ctx context.Context, id int64) (*domain.PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := *po
	return &copied, nil
}

func (r *memPORepo) UpdateApprovalStatus(ctx context.Context, id int64, approval domain.ApprovalStatus, approvedBy string) (*domain.PurchaseOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	po, ok := r.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}

	po.ApprovalStatus = approval
	po.Status = approval.POStatus()
	if approvedBy != "" {
		by := approvedBy
		po.ApprovedBy = &by
	}

	copied := *po
	return &copied, nil
}

type memTxManager struct {
	tracking *memTrackingRepo
	orders   *memPORepo
}

func (m *memTxManager) InTx(ctx context.Context, fn func(s repository.Stores) error) error {
	return fn(repository.Stores{
		Tracking:       m.tracking,
		PurchaseOrders: m.orders,
	})
}

type fakeDispatcher struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, msg mailer.Message) (*mailer.DeliveryReceipt, error)
	sent   []mailer.Message
}

func (f *fakeDispatcher) Send(ctx context.Context, msg mailer.Message) (*mailer.DeliveryReceipt, error) {
	f.mu.Lock()
	f.sent = append(f.sent, msg)
	f.mu.Unlock()
	if f.sendFn == nil {
		return &mailer.DeliveryReceipt{Transport: "primary", Attempts: 1}, nil
	}
	return f.sendFn(ctx, msg)
}

type fakeBus struct {
	mu          sync.Mutex
	emailEvents []notify.EmailStatusUpdate
	poEvents    []notify.PurchaseOrderUpdate
}

func (f *fakeBus) PublishEmailStatus(ctx context.Context, update notify.EmailStatusUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emailEvents = append(f.emailEvents, update)
	return nil
}

func (f *fakeBus) PublishPurchaseOrder(ctx context.Context, update notify.PurchaseOrderUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poEvents = append(f.poEvents, update)
	return nil
}

type fakeRenderer struct {
	renderFn func(ctx context.Context, poID int64) ([]byte, error)
}

func (f *fakeRenderer) RenderPurchaseOrder(ctx context.Context, poID int64) ([]byte, error) {
	if f.renderFn == nil {
		return []byte("%PDF rendered"), nil
	}
	return f.renderFn(ctx, poID)
}

type testFixture struct {
	engine     *Engine
	tracking   *memTrackingRepo
	orders     *memPORepo
	dispatcher *fakeDispatcher
	bus        *fakeBus
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	tracking := newMemTrackingRepo()
	orders := newMemPORepo()
	dispatcher := &fakeDispatcher{}
	bus := &fakeBus{}

	eng, err := NewEngine(&memTxManager{tracking: tracking, orders: orders}, tracking, orders, dispatcher, nil, nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	eng.SetBus(bus)

	return &testFixture{
		engine:     eng,
		tracking:   tracking,
		orders:     orders,
		dispatcher: dispatcher,
		bus:        bus,
	}
}

func (f *testFixture) seedOrder(id int64, number string) {
	f.orders.orders[id] = &domain.PurchaseOrder{
		ID:             id,
		PONumber:       number,
		Status:         domain.POPending,
		ApprovalStatus: domain.ApprovalPending,
	}
}

func (f *testFixture) seedRecord(t *testing.T, poID int64, recipient string, status domain.ApprovalStatus) *domain.TrackingRecord {
	t.Helper()

	code, err := domain.NewTrackingCode()
	if err != nil {
		t.Fatalf("NewTrackingCode() error = %v", err)
	}

	record := &domain.TrackingRecord{
		POID:           poID,
		RecipientEmail: recipient,
		EmailSubject:   approvalSubject("PO-1", code),
		TrackingCode:   code,
		PDFData:        []byte("%PDF original"),
		Status:         domain.ApprovalPending,
		SentDate:       time.Now().UTC(),
	}
	if err := f.tracking.Create(context.Background(), record); err != nil {
		t.Fatalf("seed Create() error = %v", err)
	}
	if status != domain.ApprovalPending {
		if _, err := f.tracking.UpdateStatus(context.Background(), code, status, nil); err != nil {
			t.Fatalf("seed UpdateStatus() error = %v", err)
		}
		record.Status = status
	}
	return record
}

func TestSendForApproval(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(42, "PO-42")
	f.engine.SetRenderer(&fakeRenderer{})

	record, err := f.engine.SendForApproval(context.Background(), 42, "approver@example.com")
	if err != nil {
		t.Fatalf("SendForApproval() error = %v", err)
	}

	if record.Status != domain.ApprovalPending {
		t.Fatalf("record status = %s, want pending", record.Status)
	}
	if !strings.Contains(record.EmailSubject, domain.ApprovalSubjectTag(record.TrackingCode)) {
		t.Fatalf("subject %q does not carry the tracking tag", record.EmailSubject)
	}
	if got := domain.TrackingCodeFromSubject(record.EmailSubject); got != record.TrackingCode {
		t.Fatalf("code from subject = %s, want %s", got, record.TrackingCode)
	}

	if len(f.dispatcher.sent) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(f.dispatcher.sent))
	}
	msg := f.dispatcher.sent[0]
	if msg.To != "approver@example.com" {
		t.Fatalf("message recipient = %s", msg.To)
	}
	if len(msg.PDF) == 0 {
		t.Fatal("message should carry the rendered document")
	}
	if msg.POID != 42 || msg.PONumber != "PO-42" {
		t.Fatalf("message context = %d/%s", msg.POID, msg.PONumber)
	}

	if len(f.bus.emailEvents) != 1 || f.bus.emailEvents[0].Status != "pending" {
		t.Fatalf("email events = %+v, want one pending", f.bus.emailEvents)
	}
}

func TestSendForApprovalRetriesDuplicateCode(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(7, "PO-7")
	f.tracking.createErrs = []error{domain.ErrDuplicateTrackingCode}

	record, err := f.engine.SendForApproval(context.Background(), 7, "approver@example.com")
	if err != nil {
		t.Fatalf("SendForApproval() error = %v", err)
	}

	if len(f.tracking.records) != 1 {
		t.Fatalf("stored records = %d, want 1", len(f.tracking.records))
	}
	// The subject must match the code that finally persisted, not the one
	// that collided.
	if got := domain.TrackingCodeFromSubject(record.EmailSubject); got != record.TrackingCode {
		t.Fatalf("code from subject = %s, want %s", got, record.TrackingCode)
	}
}

func TestSendForApprovalGivesUpAfterRepeatedCollisions(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(7, "PO-7")
	f.tracking.createErrs = []error{
		domain.ErrDuplicateTrackingCode,
		domain.ErrDuplicateTrackingCode,
		domain.ErrDuplicateTrackingCode,
	}

	_, err := f.engine.SendForApproval(context.Background(), 7, "approver@example.com")
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	if len(f.dispatcher.sent) != 0 {
		t.Fatal("nothing should be dispatched when no record persisted")
	}
}

func TestSendForApprovalToleratesDeliveryFailure(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(9, "PO-9")
	f.dispatcher.sendFn = func(ctx context.Context, msg mailer.Message) (*mailer.DeliveryReceipt, error) {
		return nil, fmt.Errorf("%w after 3 attempts", mailer.ErrDeliveryFailed)
	}

	record, err := f.engine.SendForApproval(context.Background(), 9, "approver@example.com")
	if err != nil {
		t.Fatalf("SendForApproval() should tolerate dead-lettered delivery, got %v", err)
	}

	stored, err := f.tracking.GetByCode(context.Background(), record.TrackingCode)
	if err != nil {
		t.Fatalf("GetByCode() error = %v", err)
	}
	if stored.Status != domain.ApprovalPending {
		t.Fatalf("record status = %s, want pending", stored.Status)
	}
}

func TestSendForApprovalUnknownOrder(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)

	_, err := f.engine.SendForApproval(context.Background(), 404, "approver@example.com")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestProcessEmailApprovalApproved(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(1, "PO-1")
	record := f.seedRecord(t, 1, "approver@example.com", domain.ApprovalPending)

	result, err := f.engine.ProcessEmailApproval(
		context.Background(), record.TrackingCode, "approver@example.com", false,
		"Approved, go ahead with the order.\n\nThanks",
	)
	if err != nil {
		t.Fatalf("ProcessEmailApproval() error = %v", err)
	}

	if !result.Success {
		t.Fatal("result should report success")
	}
	if result.ApprovalStatus != domain.ApprovalApproved {
		t.Fatalf("approval status = %s, want approved", result.ApprovalStatus)
	}
	if result.NewStatus != domain.POApproved {
		t.Fatalf("po status = %s, want approved", result.NewStatus)
	}

	po, _ := f.orders.GetByID(context.Background(), 1)
	if po.ApprovalStatus != domain.ApprovalApproved || po.Status != domain.POApproved {
		t.Fatalf("stored po = %s/%s", po.ApprovalStatus, po.Status)
	}
	if po.ApprovedBy == nil || *po.ApprovedBy != "approver@example.com" {
		t.Fatalf("approved by = %v", po.ApprovedBy)
	}

	if len(f.bus.emailEvents) != 1 || len(f.bus.poEvents) != 1 {
		t.Fatalf("events = %d email / %d po, want 1/1", len(f.bus.emailEvents), len(f.bus.poEvents))
	}
	if f.bus.poEvents[0].ApprovalStatus != "approved" {
		t.Fatalf("po event approval status = %s", f.bus.poEvents[0].ApprovalStatus)
	}
}

func TestProcessEmailApprovalOnHold(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(2, "PO-2")
	record := f.seedRecord(t, 2, "approver@example.com", domain.ApprovalPending)

	result, err := f.engine.ProcessEmailApproval(
		context.Background(), record.TrackingCode, "approver@example.com", false,
		"Needs revision before approval",
	)
	if err != nil {
		t.Fatalf("ProcessEmailApproval() error = %v", err)
	}

	if result.ApprovalStatus != domain.ApprovalOnHold {
		t.Fatalf("approval status = %s, want on_hold", result.ApprovalStatus)
	}
	if result.NewStatus != domain.POPending {
		t.Fatalf("po status = %s, want pending", result.NewStatus)
	}
}

func TestProcessEmailApprovalUnclassifiableRejects(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(3, "PO-3")
	record := f.seedRecord(t, 3, "approver@example.com", domain.ApprovalPending)

	result, err := f.engine.ProcessEmailApproval(
		context.Background(), record.TrackingCode, "approver@example.com", false,
		"Thanks for sending this over.",
	)
	if err != nil {
		t.Fatalf("ProcessEmailApproval() error = %v", err)
	}

	if result.ApprovalStatus != domain.ApprovalRejected {
		t.Fatalf("approval status = %s, want rejected", result.ApprovalStatus)
	}
	if result.NewStatus != domain.POCanceled {
		t.Fatalf("po status = %s, want canceled", result.NewStatus)
	}
}

func TestProcessEmailApprovalHintBreaksTie(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(4, "PO-4")
	record := f.seedRecord(t, 4, "approver@example.com", domain.ApprovalPending)

	result, err := f.engine.ProcessEmailApproval(
		context.Background(), record.TrackingCode, "approver@example.com", true,
		"Thanks for sending this over.",
	)
	if err != nil {
		t.Fatalf("ProcessEmailApproval() error = %v", err)
	}

	if result.ApprovalStatus != domain.ApprovalApproved {
		t.Fatalf("approval status = %s, want approved via hint", result.ApprovalStatus)
	}
}

func TestProcessEmailApprovalUnauthorized(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(5, "PO-5")
	record := f.seedRecord(t, 5, "approver@example.com", domain.ApprovalPending)

	_, err := f.engine.ProcessEmailApproval(
		context.Background(), record.TrackingCode, "intruder@example.com", false, "Approved",
	)
	if !errors.Is(err, domain.ErrUnauthorizedApprover) {
		t.Fatalf("error = %v, want ErrUnauthorizedApprover", err)
	}

	stored, _ := f.tracking.GetByCode(context.Background(), record.TrackingCode)
	if stored.Status != domain.ApprovalPending {
		t.Fatalf("record status = %s, unauthorized reply must not mutate state", stored.Status)
	}
	if len(f.bus.emailEvents) != 0 {
		t.Fatal("unauthorized reply must not publish events")
	}
}

func TestProcessEmailApprovalRecipientCaseInsensitive(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(6, "PO-6")
	record := f.seedRecord(t, 6, "Approver@Example.com", domain.ApprovalPending)

	result, err := f.engine.ProcessEmailApproval(
		context.Background(), record.TrackingCode, "approver@example.com", false, "Approved",
	)
	if err != nil {
		t.Fatalf("ProcessEmailApproval() error = %v", err)
	}
	if result.ApprovalStatus != domain.ApprovalApproved {
		t.Fatalf("approval status = %s, want approved", result.ApprovalStatus)
	}
}

func TestProcessEmailApprovalStickyApproval(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(8, "PO-8")
	record := f.seedRecord(t, 8, "approver@example.com", domain.ApprovalApproved)

	result, err := f.engine.ProcessEmailApproval(
		context.Background(), record.TrackingCode, "approver@example.com", false,
		"Actually, please revise the delivery date.",
	)
	if err != nil {
		t.Fatalf("ProcessEmailApproval() error = %v", err)
	}

	if result.ApprovalStatus != domain.ApprovalApproved {
		t.Fatalf("approval status = %s, a hold must not downgrade an approval", result.ApprovalStatus)
	}
}

func TestProcessEmailApprovalUnknownCode(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)

	_, err := f.engine.ProcessEmailApproval(
		context.Background(), strings.Repeat("ab", 16), "approver@example.com", false, "Approved",
	)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestProcessEmailApprovalReroutesOnApproval(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(10, "PO-10")
	f.engine.SetRerouteEmail("purchasing@example.com")
	record := f.seedRecord(t, 10, "approver@example.com", domain.ApprovalPending)

	_, err := f.engine.ProcessEmailApproval(
		context.Background(), record.TrackingCode, "approver@example.com", false, "Approved",
	)
	if err != nil {
		t.Fatalf("ProcessEmailApproval() error = %v", err)
	}

	original, _ := f.tracking.GetByCode(context.Background(), record.TrackingCode)
	if original.ReroutedTo == nil || *original.ReroutedTo != "purchasing@example.com" {
		t.Fatalf("rerouted to = %v, want purchasing@example.com", original.ReroutedTo)
	}
	if original.ReroutedTrackingCode == nil {
		t.Fatal("original record should link to the rerouted record")
	}

	rerouted, err := f.tracking.GetByCode(context.Background(), *original.ReroutedTrackingCode)
	if err != nil {
		t.Fatalf("rerouted record lookup error = %v", err)
	}
	if rerouted.RecipientEmail != "purchasing@example.com" {
		t.Fatalf("rerouted recipient = %s", rerouted.RecipientEmail)
	}
	if rerouted.Status != domain.ApprovalPending {
		t.Fatalf("rerouted record status = %s, want pending", rerouted.Status)
	}
	if rerouted.POID != 10 {
		t.Fatalf("rerouted record poId = %d, want 10", rerouted.POID)
	}

	// The forward email itself.
	if len(f.dispatcher.sent) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(f.dispatcher.sent))
	}
	if f.dispatcher.sent[0].To != "purchasing@example.com" {
		t.Fatalf("forward recipient = %s", f.dispatcher.sent[0].To)
	}
}

func TestRerouteSkippedWhenFinalRecipientApproves(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(11, "PO-11")
	f.engine.SetRerouteEmail("purchasing@example.com")
	record := f.seedRecord(t, 11, "purchasing@example.com", domain.ApprovalPending)

	_, err := f.engine.ProcessEmailApproval(
		context.Background(), record.TrackingCode, "purchasing@example.com", false, "Approved",
	)
	if err != nil {
		t.Fatalf("ProcessEmailApproval() error = %v", err)
	}

	original, _ := f.tracking.GetByCode(context.Background(), record.TrackingCode)
	if original.ReroutedTo != nil {
		t.Fatal("chain must end when the final recipient approves")
	}
	if len(f.dispatcher.sent) != 0 {
		t.Fatal("no forward should be dispatched")
	}
}

func TestRerouteRegeneratesMissingDocument(t *testing.T) {
	t.Parallel()

	f := newTestFixture(t)
	f.seedOrder(12, "PO-12")
	f.engine.SetRerouteEmail("purchasing@example.com")

	rendered := 0
	f.engine.SetRenderer(&fakeRenderer{
		renderFn: func(ctx context.Context, poID int64) ([]byte, error) {
			rendered++
			return []byte("%PDF regenerated"), nil
		},
	})

	code, err := domain.NewTrackingCode()
	if err != nil {
		t.Fatalf("NewTrackingCode() error = %v", err)
	}
	record := &domain.TrackingRecord{
		POID:           12,
		RecipientEmail: "approver@example.com",
		EmailSubject:   approvalSubject("PO-12", code),
		TrackingCode:   code,
		Status:         domain.ApprovalPending,
		SentDate:       time.Now().UTC(),
	}
	if err := f.tracking.Create(context.Background(), record); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	_, err = f.engine.ProcessEmailApproval(
		context.Background(), code, "approver@example.com", false, "Approved",
	)
	if err != nil {
		t.Fatalf("ProcessEmailApproval() error = %v", err)
	}

	if rendered != 1 {
		t.Fatalf("render calls = %d, want 1", rendered)
	}
	if len(f.dispatcher.sent) != 1 || string(f.dispatcher.sent[0].PDF) != "%PDF regenerated" {
		t.Fatal("forward should carry the regenerated document")
	}
}
