package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/registrar-api/internal/models"
	"github.com/noah-isme/registrar-api/internal/repository"
	"github.com/noah-isme/registrar-api/pkg/keylock"
	"github.com/noah-isme/registrar-api/pkg/ledger"
)

var testTerm = models.Term{Year: 2025, Half: 1}

type fakePeriodRepo struct {
	mu      sync.Mutex
	state   *models.PeriodState
	updates []models.Phase
	failing bool
}

func (f *fakePeriodRepo) Current(ctx context.Context) (*models.PeriodState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		return nil, sql.ErrNoRows
	}
	snapshot := *f.state
	return &snapshot, nil
}

func (f *fakePeriodRepo) Create(ctx context.Context, state *models.PeriodState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != nil && f.state.Term == state.Term {
		return repository.ErrDuplicate
	}
	snapshot := *state
	f.state = &snapshot
	return nil
}

func (f *fakePeriodRepo) UpdatePhase(ctx context.Context, term models.Term, phase models.Phase) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return time.Time{}, errors.New("db down")
	}
	f.state.Phase = phase
	f.updates = append(f.updates, phase)
	return time.Now().UTC(), nil
}

type fakeStandingRepo struct {
	mu        sync.Mutex
	standings map[int64]models.StandingStatus
	leaves    map[int64][]models.LeaveApplication
}

func newFakeStandingRepo() *fakeStandingRepo {
	return &fakeStandingRepo{standings: map[int64]models.StandingStatus{}, leaves: map[int64][]models.LeaveApplication{}}
}

func (f *fakeStandingRepo) set(studentID int64, status models.StandingStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.standings[studentID] = status
}

func (f *fakeStandingRepo) GetStanding(ctx context.Context, studentID int64, term models.Term) (*models.AcademicStanding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.standings[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &models.AcademicStanding{StudentID: studentID, Term: term, Status: status}, nil
}

func (f *fakeStandingRepo) ListBlockingLeaves(ctx context.Context, studentID int64, term models.Term) ([]models.LeaveApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.LeaveApplication(nil), f.leaves[studentID]...), nil
}

type fakeSubjectRepo struct {
	mu       sync.Mutex
	subjects map[int64]models.Subject
	nextID   int64
	finds    int
}

func newFakeSubjectRepo() *fakeSubjectRepo {
	return &fakeSubjectRepo{subjects: map[int64]models.Subject{}, nextID: 100}
}

func (f *fakeSubjectRepo) FindByID(ctx context.Context, id int64) (*models.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finds++
	subject, ok := f.subjects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &subject, nil
}

func (f *fakeSubjectRepo) ListByTerm(ctx context.Context, term models.Term) ([]models.Subject, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Subject, 0)
	for _, s := range f.subjects {
		if s.Term == term {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeSubjectRepo) Create(ctx context.Context, subject *models.Subject) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.subjects {
		if s.Code == subject.Code && s.Term == subject.Term {
			return repository.ErrDuplicate
		}
	}
	f.nextID++
	subject.ID = f.nextID
	subject.CreatedAt = time.Now().UTC()
	f.subjects[subject.ID] = *subject
	return nil
}

type fakePreRegistrationRepo struct {
	mu      sync.Mutex
	records map[[2]int64]models.PreRegistration
}

func newFakePreRegistrationRepo() *fakePreRegistrationRepo {
	return &fakePreRegistrationRepo{records: map[[2]int64]models.PreRegistration{}}
}

func (f *fakePreRegistrationRepo) Insert(ctx context.Context, rec *models.PreRegistration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int64{rec.StudentID, rec.SubjectID}
	if _, ok := f.records[key]; ok {
		return false, nil
	}
	f.records[key] = *rec
	return true, nil
}

func (f *fakePreRegistrationRepo) Delete(ctx context.Context, studentID, subjectID int64, term models.Term) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int64{studentID, subjectID}
	if _, ok := f.records[key]; !ok {
		return false, nil
	}
	delete(f.records, key)
	return true, nil
}

func (f *fakePreRegistrationRepo) ListByStudent(ctx context.Context, studentID int64, term models.Term) ([]models.PreRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PreRegistration, 0)
	for _, rec := range f.records {
		if rec.StudentID == studentID && rec.Term == term {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out, nil
}

// ListByTerm returns records in map order; the engine sorts them itself.
func (f *fakePreRegistrationRepo) ListByTerm(ctx context.Context, term models.Term) ([]models.PreRegistration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.PreRegistration, 0, len(f.records))
	for _, rec := range f.records {
		if rec.Term == term {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakePreRegistrationRepo) DeleteByTerm(ctx context.Context, term models.Term) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for key, rec := range f.records {
		if rec.Term == term {
			delete(f.records, key)
			n++
		}
	}
	return n, nil
}

func (f *fakePreRegistrationRepo) Demand(ctx context.Context, term models.Term) ([]models.SubjectDemand, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[int64]int{}
	for _, rec := range f.records {
		counts[rec.SubjectID]++
	}
	out := make([]models.SubjectDemand, 0, len(counts))
	for id, n := range counts {
		out = append(out, models.SubjectDemand{SubjectID: id, Declared: n})
	}
	return out, nil
}

func (f *fakePreRegistrationRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeEnrollmentRepo struct {
	mu          sync.Mutex
	records     map[[2]int64]models.Enrollment
	failInserts int
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{records: map[[2]int64]models.Enrollment{}}
}

func (f *fakeEnrollmentRepo) Insert(ctx context.Context, e *models.Enrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failInserts > 0 {
		f.failInserts--
		return errors.New("insert failed")
	}
	key := [2]int64{e.StudentID, e.SubjectID}
	if _, ok := f.records[key]; ok {
		return repository.ErrDuplicate
	}
	f.records[key] = *e
	return nil
}

func (f *fakeEnrollmentRepo) Find(ctx context.Context, studentID, subjectID int64, term models.Term) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.records[[2]int64{studentID, subjectID}]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &e, nil
}

func (f *fakeEnrollmentRepo) Delete(ctx context.Context, studentID, subjectID int64, term models.Term) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := [2]int64{studentID, subjectID}
	e, ok := f.records[key]
	if !ok {
		return nil, sql.ErrNoRows
	}
	delete(f.records, key)
	return &e, nil
}

func (f *fakeEnrollmentRepo) ListByStudent(ctx context.Context, studentID int64, term models.Term) ([]models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Enrollment, 0)
	for _, e := range f.records {
		if e.StudentID == studentID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectID < out[j].SubjectID })
	return out, nil
}

func (f *fakeEnrollmentRepo) SumCredits(ctx context.Context, studentID int64, term models.Term) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, e := range f.records {
		if e.StudentID == studentID {
			total += e.Credits
		}
	}
	return total, nil
}

func (f *fakeEnrollmentRepo) CountBySubject(ctx context.Context, term models.Term) ([]models.EnrollmentCount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[int64]int{}
	for _, e := range f.records {
		counts[e.SubjectID]++
	}
	out := make([]models.EnrollmentCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, models.EnrollmentCount{SubjectID: id, Count: n})
	}
	return out, nil
}

func (f *fakeEnrollmentRepo) CreditTotals(ctx context.Context, term models.Term) ([]models.StudentCredits, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	totals := map[int64]int{}
	for _, e := range f.records {
		totals[e.StudentID] += e.Credits
	}
	out := make([]models.StudentCredits, 0, len(totals))
	for id, credits := range totals {
		out = append(out, models.StudentCredits{StudentID: id, Credits: credits})
	}
	return out, nil
}

func (f *fakeEnrollmentRepo) has(studentID, subjectID int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.records[[2]int64{studentID, subjectID}]
	return ok
}

func (f *fakeEnrollmentRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

type fakeReportRepo struct {
	mu      sync.Mutex
	reports map[models.Term]models.TransitionReport
}

func (f *fakeReportRepo) Save(ctx context.Context, report *models.TransitionReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reports == nil {
		f.reports = map[models.Term]models.TransitionReport{}
	}
	f.reports[report.Term] = *report
	return nil
}

func (f *fakeReportRepo) Get(ctx context.Context, term models.Term) (*models.TransitionReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	report, ok := f.reports[term]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &report, nil
}

type fakeAdvisingRepo struct {
	mu           sync.Mutex
	slots        map[int64]models.AdvisingSlot
	reservations map[string]models.SlotReservation
	nextID       int64
}

func newFakeAdvisingRepo() *fakeAdvisingRepo {
	return &fakeAdvisingRepo{slots: map[int64]models.AdvisingSlot{}, reservations: map[string]models.SlotReservation{}}
}

func (f *fakeAdvisingRepo) CreateSlot(ctx context.Context, slot *models.AdvisingSlot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, s := range f.slots {
		if s.ProfessorID == slot.ProfessorID && s.StartsAt.Equal(slot.StartsAt) {
			return repository.ErrDuplicate
		}
	}
	f.nextID++
	slot.ID = f.nextID
	f.slots[slot.ID] = *slot
	return nil
}

func (f *fakeAdvisingRepo) FindSlot(ctx context.Context, id int64) (*models.AdvisingSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	slot, ok := f.slots[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	slot.Occupancy = f.occupancyLocked(id)
	return &slot, nil
}

func (f *fakeAdvisingRepo) ListSlots(ctx context.Context, filter models.SlotFilter) ([]models.AdvisingSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AdvisingSlot, 0)
	for id, slot := range f.slots {
		if slot.Term != filter.Term {
			continue
		}
		slot.Occupancy = f.occupancyLocked(id)
		if filter.OnlyOpen && slot.Occupancy != models.SlotOpen {
			continue
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAdvisingRepo) ListReservedSlots(ctx context.Context) ([]models.AdvisingSlot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AdvisingSlot, 0)
	for id, slot := range f.slots {
		if f.occupancyLocked(id) == models.SlotReserved {
			slot.Occupancy = models.SlotReserved
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeAdvisingRepo) InsertReservation(ctx context.Context, res *models.SlotReservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reservations {
		if r.SlotID == res.SlotID {
			return repository.ErrDuplicate
		}
	}
	f.reservations[res.ID] = *res
	return nil
}

func (f *fakeAdvisingRepo) FindReservation(ctx context.Context, id string) (*models.SlotReservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &res, nil
}

func (f *fakeAdvisingRepo) DeleteReservation(ctx context.Context, id string) (*models.SlotReservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.reservations[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	delete(f.reservations, id)
	return &res, nil
}

func (f *fakeAdvisingRepo) occupancyLocked(slotID int64) models.SlotOccupancy {
	for _, r := range f.reservations {
		if r.SlotID == slotID {
			return models.SlotReserved
		}
	}
	return models.SlotOpen
}

func (f *fakeAdvisingRepo) reservationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reservations)
}

// flakyLedger fails Release on demand to exercise compensation paths.
type flakyLedger struct {
	*ledger.Ledger[models.LedgerKey]
	failRelease bool
}

func (f *flakyLedger) Release(ctx context.Context, key models.LedgerKey) error {
	if f.failRelease {
		return errors.New("ledger unavailable")
	}
	return f.Ledger.Release(ctx, key)
}

// registrar wires every registration service over in-memory fakes.
type registrar struct {
	periodRepo   *fakePeriodRepo
	standings    *fakeStandingRepo
	subjectRepo  *fakeSubjectRepo
	declarations *fakePreRegistrationRepo
	enrollRepo   *fakeEnrollmentRepo
	reportRepo   *fakeReportRepo
	advisingRepo *fakeAdvisingRepo
	memLedger    *ledger.Ledger[models.LedgerKey]
	metrics      *MetricsService

	ledger      *LedgerService
	periods     *PeriodService
	catalog     *SubjectCatalog
	eligibility *EligibilityService
	prereg      *PreRegistrationService
	enrollments *EnrollmentService
	transitions *TransitionService
	advising    *AdvisingService
	audit       *AuditService
}

func newRegistrar(t *testing.T, maxCredits int) *registrar {
	t.Helper()
	return newRegistrarWithLedger(t, maxCredits, nil)
}

func newRegistrarWithLedger(t *testing.T, maxCredits int, backing CapacityLedger) *registrar {
	t.Helper()
	r := &registrar{
		periodRepo:   &fakePeriodRepo{},
		standings:    newFakeStandingRepo(),
		subjectRepo:  newFakeSubjectRepo(),
		declarations: newFakePreRegistrationRepo(),
		enrollRepo:   newFakeEnrollmentRepo(),
		reportRepo:   &fakeReportRepo{},
		advisingRepo: newFakeAdvisingRepo(),
		memLedger:    ledger.New[models.LedgerKey](),
		metrics:      NewMetricsService(),
	}
	if backing == nil {
		backing = r.memLedger
	}
	r.ledger = NewLedgerService(backing, r.metrics, nil)
	r.catalog = NewSubjectCatalog(r.subjectRepo, nil, r.ledger, SubjectCatalogConfig{}, nil, nil)
	r.periods = NewPeriodService(r.periodRepo, r.subjectRepo, r.ledger, r.metrics, nil)
	r.eligibility = NewEligibilityService(r.standings, nil)
	r.prereg = NewPreRegistrationService(r.declarations, r.periods, r.eligibility, r.catalog, nil, nil)
	r.enrollments = NewEnrollmentService(r.enrollRepo, r.periods, r.eligibility, r.catalog, r.ledger, keylock.New[string](),
		EnrollmentConfig{MaxCreditsPerTerm: maxCredits, LockTimeout: time.Second}, nil, nil)
	r.transitions = NewTransitionService(r.declarations, r.reportRepo, r.eligibility, r.catalog, r.enrollments, 4, r.metrics, nil)
	r.periods.SetTransitionEngine(r.transitions)
	r.advising = NewAdvisingService(r.advisingRepo, r.periods, r.ledger, nil, nil)
	r.audit = NewAuditService(r.subjectRepo, r.enrollRepo, r.advisingRepo, r.ledger, maxCredits, r.metrics, nil)
	return r
}

func (r *registrar) addSubject(id int64, credits, capacity int) models.Subject {
	subject := models.Subject{ID: id, Term: testTerm, Code: "SUB" + string(rune('A'+id%26)), Title: "Subject", Credits: credits, Capacity: capacity}
	r.subjectRepo.mu.Lock()
	r.subjectRepo.subjects[id] = subject
	r.subjectRepo.mu.Unlock()
	return subject
}

func (r *registrar) activate(studentIDs ...int64) {
	for _, id := range studentIDs {
		r.standings.set(id, models.StandingActive)
	}
}

func (r *registrar) open(t *testing.T) {
	t.Helper()
	_, err := r.periods.Open(context.Background(), testTerm)
	require.NoError(t, err)
}

func (r *registrar) openRegistration(t *testing.T) {
	t.Helper()
	r.open(t)
	_, _, err := r.periods.TransitionTo(context.Background(), models.PhaseRegistration)
	require.NoError(t, err)
}

func (r *registrar) committed(t *testing.T, subjectID int64) int {
	t.Helper()
	entry, err := r.memLedger.Entry(context.Background(), models.SubjectKey(subjectID, testTerm))
	require.NoError(t, err)
	return entry.Committed
}
