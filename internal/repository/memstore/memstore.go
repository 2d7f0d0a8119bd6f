// Package memstore is an in-memory repository.Store for tests. It enforces
// the unique indexes the services rely on and rolls back every change made
// inside a failed ExecTx. Row locks are not modelled.
package memstore

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/google/uuid"
)

// Store implements repository.Store.
type Store struct {
	// Now is the database clock used where Postgres would call now().
	Now func() time.Time

	txMu sync.Mutex
	mu   sync.Mutex
	d    data
	errs map[string]error
}

type data struct {
	sequences     map[uuid.UUID]repository.Sequence
	steps         map[uuid.UUID]repository.SequenceStep
	enrollments   map[uuid.UUID]repository.Enrollment
	executions    map[uuid.UUID]repository.StepExecution
	drafts        map[uuid.UUID]repository.AiDraft
	emailLogs     map[uuid.UUID]repository.EmailLog
	replies       map[uuid.UUID]repository.Reply
	seasonal      map[uuid.UUID]repository.SeasonalTriggerDate
	companies     map[uuid.UUID]repository.Company
	contacts      map[uuid.UUID]repository.Contact
	contracts     map[uuid.UUID]repository.Contract
	invoices      map[uuid.UUID]repository.Invoice
	opportunities map[uuid.UUID]repository.Opportunity
	quotes        map[uuid.UUID]repository.Quote
	tasks         map[uuid.UUID]repository.Task
	jobs          map[uuid.UUID]repository.Job
}

func (d data) clone() data {
	return data{
		sequences:     maps.Clone(d.sequences),
		steps:         maps.Clone(d.steps),
		enrollments:   maps.Clone(d.enrollments),
		executions:    maps.Clone(d.executions),
		drafts:        maps.Clone(d.drafts),
		emailLogs:     maps.Clone(d.emailLogs),
		replies:       maps.Clone(d.replies),
		seasonal:      maps.Clone(d.seasonal),
		companies:     maps.Clone(d.companies),
		contacts:      maps.Clone(d.contacts),
		contracts:     maps.Clone(d.contracts),
		invoices:      maps.Clone(d.invoices),
		opportunities: maps.Clone(d.opportunities),
		quotes:        maps.Clone(d.quotes),
		tasks:         maps.Clone(d.tasks),
		jobs:          maps.Clone(d.jobs),
	}
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		Now: time.Now,
		d: data{
			sequences:     make(map[uuid.UUID]repository.Sequence),
			steps:         make(map[uuid.UUID]repository.SequenceStep),
			enrollments:   make(map[uuid.UUID]repository.Enrollment),
			executions:    make(map[uuid.UUID]repository.StepExecution),
			drafts:        make(map[uuid.UUID]repository.AiDraft),
			emailLogs:     make(map[uuid.UUID]repository.EmailLog),
			replies:       make(map[uuid.UUID]repository.Reply),
			seasonal:      make(map[uuid.UUID]repository.SeasonalTriggerDate),
			companies:     make(map[uuid.UUID]repository.Company),
			contacts:      make(map[uuid.UUID]repository.Contact),
			contracts:     make(map[uuid.UUID]repository.Contract),
			invoices:      make(map[uuid.UUID]repository.Invoice),
			opportunities: make(map[uuid.UUID]repository.Opportunity),
			quotes:        make(map[uuid.UUID]repository.Quote),
			tasks:         make(map[uuid.UUID]repository.Task),
			jobs:          make(map[uuid.UUID]repository.Job),
		},
		errs: make(map[string]error),
	}
}

var _ repository.Store = (*Store)(nil)

// ExecTx implements repository.Store. Transactions are serialized; on error
// the state from before fn ran is restored.
func (s *Store) ExecTx(ctx context.Context, fn func(repository.Querier) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.d.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.d = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// FailOn makes the named method return err until cleared with a nil err.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.errs, method)
		return
	}
	s.errs[method] = err
}

// lock acquires the store and returns any injected error for method.
func (s *Store) lock(method string) error {
	s.mu.Lock()
	return s.errs[method]
}

func unique(what string) error {
	return fmt.Errorf("%w: %s", repository.ErrUniqueViolation, what)
}

func sorted[T any](m map[uuid.UUID]T, keep func(T) bool, less func(a, b T) int) []T {
	var out []T
	for _, v := range m {
		if keep(v) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, less)
	return out
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

// =============================================================================
// Seeding and inspection helpers
// =============================================================================

// AddCompany stores c, assigning an ID when it has none.
func (s *Store) AddCompany(c repository.Company) repository.Company {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.d.companies[c.ID] = c
	return c
}

// AddContact stores c, assigning an ID when it has none.
func (s *Store) AddContact(c repository.Contact) repository.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.d.contacts[c.ID] = c
	return c
}

// AddContract stores c, assigning an ID when it has none.
func (s *Store) AddContract(c repository.Contract) repository.Contract {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	s.d.contracts[c.ID] = c
	return c
}

// AddInvoice stores i, assigning an ID when it has none.
func (s *Store) AddInvoice(i repository.Invoice) repository.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	s.d.invoices[i.ID] = i
	return i
}

// AddOpportunity stores o, assigning an ID when it has none.
func (s *Store) AddOpportunity(o repository.Opportunity) repository.Opportunity {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	s.d.opportunities[o.ID] = o
	return o
}

// AddQuote stores q, assigning an ID when it has none.
func (s *Store) AddQuote(q repository.Quote) repository.Quote {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	s.d.quotes[q.ID] = q
	return q
}

// Tasks returns all tasks in creation order.
func (s *Store) Tasks() []repository.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.d.tasks, func(repository.Task) bool { return true },
		func(a, b repository.Task) int { return a.CreatedAt.Compare(b.CreatedAt) })
}

// EmailLogs returns all email logs in creation order.
func (s *Store) EmailLogs() []repository.EmailLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.d.emailLogs, func(repository.EmailLog) bool { return true },
		func(a, b repository.EmailLog) int { return a.CreatedAt.Compare(b.CreatedAt) })
}

// Replies returns all stored replies in receive order.
func (s *Store) Replies() []repository.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.d.replies, func(repository.Reply) bool { return true },
		func(a, b repository.Reply) int { return a.ReceivedAt.Compare(b.ReceivedAt) })
}

// Enrollments returns all enrollments in enrollment order.
func (s *Store) Enrollments() []repository.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.d.enrollments, func(repository.Enrollment) bool { return true },
		func(a, b repository.Enrollment) int { return a.EnrolledAt.Compare(b.EnrolledAt) })
}

// Executions returns the executions of one enrollment ordered by step.
func (s *Store) Executions(enrollmentID uuid.UUID) []repository.StepExecution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.d.executions,
		func(e repository.StepExecution) bool { return e.EnrollmentID == enrollmentID },
		func(a, b repository.StepExecution) int {
			if a.StepOrdinal != b.StepOrdinal {
				return int(a.StepOrdinal - b.StepOrdinal)
			}
			return a.CreatedAt.Compare(b.CreatedAt)
		})
}

// Drafts returns all AI drafts in creation order.
func (s *Store) Drafts() []repository.AiDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.d.drafts, func(repository.AiDraft) bool { return true },
		func(a, b repository.AiDraft) int { return a.CreatedAt.Compare(b.CreatedAt) })
}

// Jobs returns all queued jobs.
func (s *Store) Jobs() []repository.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sorted(s.d.jobs, func(repository.Job) bool { return true },
		func(a, b repository.Job) int { return a.CreatedAt.Compare(b.CreatedAt) })
}

// =============================================================================
// Sequences
// =============================================================================

func (s *Store) CreateSequence(ctx context.Context, arg repository.CreateSequenceParams) (repository.Sequence, error) {
	if err := s.lock("CreateSequence"); err != nil {
		s.mu.Unlock()
		return repository.Sequence{}, err
	}
	defer s.mu.Unlock()
	seq := repository.Sequence{
		ID:                uuid.New(),
		Name:              arg.Name,
		Description:       arg.Description,
		SequenceType:      arg.SequenceType,
		Status:            "draft",
		Department:        arg.Department,
		FromEmail:         arg.FromEmail,
		TriggerOffsetDays: arg.TriggerOffsetDays,
		TriggerEvent:      arg.TriggerEvent,
		CreatedAt:         arg.CreatedAt,
		UpdatedAt:         arg.CreatedAt,
	}
	s.d.sequences[seq.ID] = seq
	return seq, nil
}

func (s *Store) GetSequence(ctx context.Context, id uuid.UUID) (repository.Sequence, error) {
	if err := s.lock("GetSequence"); err != nil {
		s.mu.Unlock()
		return repository.Sequence{}, err
	}
	defer s.mu.Unlock()
	seq, ok := s.d.sequences[id]
	if !ok {
		return repository.Sequence{}, sql.ErrNoRows
	}
	return seq, nil
}

func (s *Store) ListActiveSequencesByType(ctx context.Context, sequenceType string) ([]repository.Sequence, error) {
	if err := s.lock("ListActiveSequencesByType"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.sequences,
		func(q repository.Sequence) bool { return q.SequenceType == sequenceType && q.Status == "active" },
		func(a, b repository.Sequence) int { return a.CreatedAt.Compare(b.CreatedAt) }), nil
}

func (s *Store) UpdateSequenceStatus(ctx context.Context, arg repository.UpdateSequenceStatusParams) error {
	if err := s.lock("UpdateSequenceStatus"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	seq, ok := s.d.sequences[arg.ID]
	if !ok {
		return nil
	}
	seq.Status = arg.Status
	seq.UpdatedAt = arg.UpdatedAt
	s.d.sequences[seq.ID] = seq
	return nil
}

func (s *Store) CreateSequenceStep(ctx context.Context, arg repository.CreateSequenceStepParams) (repository.SequenceStep, error) {
	if err := s.lock("CreateSequenceStep"); err != nil {
		s.mu.Unlock()
		return repository.SequenceStep{}, err
	}
	defer s.mu.Unlock()
	for _, st := range s.d.steps {
		if st.SequenceID == arg.SequenceID && st.Ordinal == arg.Ordinal {
			return repository.SequenceStep{}, unique("sequence_steps_sequence_id_ordinal_key")
		}
	}
	step := repository.SequenceStep{
		ID:              uuid.New(),
		SequenceID:      arg.SequenceID,
		Ordinal:         arg.Ordinal,
		DelayDays:       arg.DelayDays,
		ActionType:      arg.ActionType,
		SubjectTemplate: arg.SubjectTemplate,
		BodyTemplate:    arg.BodyTemplate,
		Translations:    arg.Translations,
		AiPrompt:        arg.AiPrompt,
		TaskTitle:       arg.TaskTitle,
		TargetStage:     arg.TargetStage,
		AttachDocument:  arg.AttachDocument,
		CreatedAt:       arg.CreatedAt,
	}
	s.d.steps[step.ID] = step
	return step, nil
}

func (s *Store) GetSequenceStep(ctx context.Context, id uuid.UUID) (repository.SequenceStep, error) {
	if err := s.lock("GetSequenceStep"); err != nil {
		s.mu.Unlock()
		return repository.SequenceStep{}, err
	}
	defer s.mu.Unlock()
	step, ok := s.d.steps[id]
	if !ok {
		return repository.SequenceStep{}, sql.ErrNoRows
	}
	return step, nil
}

func (s *Store) GetStepByOrdinal(ctx context.Context, arg repository.GetStepByOrdinalParams) (repository.SequenceStep, error) {
	if err := s.lock("GetStepByOrdinal"); err != nil {
		s.mu.Unlock()
		return repository.SequenceStep{}, err
	}
	defer s.mu.Unlock()
	for _, st := range s.d.steps {
		if st.SequenceID == arg.SequenceID && st.Ordinal == arg.Ordinal {
			return st, nil
		}
	}
	return repository.SequenceStep{}, sql.ErrNoRows
}

func (s *Store) ListSequenceSteps(ctx context.Context, sequenceID uuid.UUID) ([]repository.SequenceStep, error) {
	if err := s.lock("ListSequenceSteps"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.steps,
		func(st repository.SequenceStep) bool { return st.SequenceID == sequenceID },
		func(a, b repository.SequenceStep) int { return int(a.Ordinal - b.Ordinal) }), nil
}

// =============================================================================
// Enrollments
// =============================================================================

func (s *Store) CreateEnrollment(ctx context.Context, arg repository.CreateEnrollmentParams) (repository.Enrollment, error) {
	if err := s.lock("CreateEnrollment"); err != nil {
		s.mu.Unlock()
		return repository.Enrollment{}, err
	}
	defer s.mu.Unlock()
	if arg.TriggerEntityType.Valid {
		for _, e := range s.d.enrollments {
			if e.SequenceID == arg.SequenceID && e.TriggerEntityType == arg.TriggerEntityType &&
				e.TriggerEntityID == arg.TriggerEntityID {
				return repository.Enrollment{}, unique("idx_enrollments_trigger_key")
			}
		}
	}
	e := repository.Enrollment{
		ID:                uuid.New(),
		SequenceID:        arg.SequenceID,
		CompanyID:         arg.CompanyID,
		ContactID:         arg.ContactID,
		Status:            "active",
		Source:            arg.Source,
		TriggerEntityType: arg.TriggerEntityType,
		TriggerEntityID:   arg.TriggerEntityID,
		TriggerContext:    arg.TriggerContext,
		EnrolledAt:        arg.EnrolledAt,
		UpdatedAt:         arg.EnrolledAt,
	}
	s.d.enrollments[e.ID] = e
	return e, nil
}

func (s *Store) GetEnrollment(ctx context.Context, id uuid.UUID) (repository.Enrollment, error) {
	if err := s.lock("GetEnrollment"); err != nil {
		s.mu.Unlock()
		return repository.Enrollment{}, err
	}
	defer s.mu.Unlock()
	e, ok := s.d.enrollments[id]
	if !ok {
		return repository.Enrollment{}, sql.ErrNoRows
	}
	return e, nil
}

func (s *Store) GetEnrollmentForUpdate(ctx context.Context, id uuid.UUID) (repository.Enrollment, error) {
	if err := s.lock("GetEnrollmentForUpdate"); err != nil {
		s.mu.Unlock()
		return repository.Enrollment{}, err
	}
	defer s.mu.Unlock()
	e, ok := s.d.enrollments[id]
	if !ok {
		return repository.Enrollment{}, sql.ErrNoRows
	}
	return e, nil
}

func (s *Store) GetEnrollmentByTrigger(ctx context.Context, arg repository.GetEnrollmentByTriggerParams) (repository.Enrollment, error) {
	if err := s.lock("GetEnrollmentByTrigger"); err != nil {
		s.mu.Unlock()
		return repository.Enrollment{}, err
	}
	defer s.mu.Unlock()
	for _, e := range s.d.enrollments {
		if e.SequenceID == arg.SequenceID && e.TriggerEntityType.String == arg.TriggerEntityType &&
			e.TriggerEntityID.String == arg.TriggerEntityID && e.TriggerEntityType.Valid {
			return e, nil
		}
	}
	return repository.Enrollment{}, sql.ErrNoRows
}

func (s *Store) ListActiveEnrollmentsByCompany(ctx context.Context, companyID uuid.UUID) ([]repository.Enrollment, error) {
	if err := s.lock("ListActiveEnrollmentsByCompany"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.enrollments,
		func(e repository.Enrollment) bool { return e.CompanyID == companyID && e.Status == "active" },
		func(a, b repository.Enrollment) int { return a.EnrolledAt.Compare(b.EnrolledAt) }), nil
}

func (s *Store) ListEnrollmentsByContact(ctx context.Context, contactID uuid.UUID) ([]repository.Enrollment, error) {
	if err := s.lock("ListEnrollmentsByContact"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.enrollments,
		func(e repository.Enrollment) bool { return e.ContactID == contactID },
		func(a, b repository.Enrollment) int { return b.EnrolledAt.Compare(a.EnrolledAt) }), nil
}

func (s *Store) UpdateEnrollmentStatus(ctx context.Context, arg repository.UpdateEnrollmentStatusParams) (repository.Enrollment, error) {
	if err := s.lock("UpdateEnrollmentStatus"); err != nil {
		s.mu.Unlock()
		return repository.Enrollment{}, err
	}
	defer s.mu.Unlock()
	e, ok := s.d.enrollments[arg.ID]
	if !ok {
		return repository.Enrollment{}, sql.ErrNoRows
	}
	e.Status = arg.Status
	e.PauseReason = arg.PauseReason
	if arg.PausedAt.Valid {
		e.PausedAt = arg.PausedAt
	}
	if arg.CompletedAt.Valid {
		e.CompletedAt = arg.CompletedAt
	}
	if arg.CancelledAt.Valid {
		e.CancelledAt = arg.CancelledAt
	}
	e.UpdatedAt = arg.UpdatedAt
	s.d.enrollments[e.ID] = e
	return e, nil
}

func (s *Store) UpdateEnrollmentStep(ctx context.Context, arg repository.UpdateEnrollmentStepParams) error {
	if err := s.lock("UpdateEnrollmentStep"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	e, ok := s.d.enrollments[arg.ID]
	if !ok {
		return nil
	}
	e.CurrentStep = arg.CurrentStep
	e.UpdatedAt = arg.UpdatedAt
	s.d.enrollments[e.ID] = e
	return nil
}

// =============================================================================
// Step executions
// =============================================================================

func isOpen(status string) bool {
	return status == "scheduled" || status == "pending_approval"
}

func (s *Store) CreateStepExecution(ctx context.Context, arg repository.CreateStepExecutionParams) (repository.StepExecution, error) {
	if err := s.lock("CreateStepExecution"); err != nil {
		s.mu.Unlock()
		return repository.StepExecution{}, err
	}
	defer s.mu.Unlock()
	for _, ex := range s.d.executions {
		if ex.EnrollmentID == arg.EnrollmentID && isOpen(ex.Status) {
			return repository.StepExecution{}, unique("idx_step_executions_open")
		}
	}
	ex := repository.StepExecution{
		ID:           uuid.New(),
		EnrollmentID: arg.EnrollmentID,
		StepID:       arg.StepID,
		StepOrdinal:  arg.StepOrdinal,
		Status:       "scheduled",
		ScheduledFor: arg.ScheduledFor,
		CreatedAt:    arg.CreatedAt,
		UpdatedAt:    arg.CreatedAt,
	}
	s.d.executions[ex.ID] = ex
	return ex, nil
}

func (s *Store) GetStepExecution(ctx context.Context, id uuid.UUID) (repository.StepExecution, error) {
	if err := s.lock("GetStepExecution"); err != nil {
		s.mu.Unlock()
		return repository.StepExecution{}, err
	}
	defer s.mu.Unlock()
	ex, ok := s.d.executions[id]
	if !ok {
		return repository.StepExecution{}, sql.ErrNoRows
	}
	return ex, nil
}

func (s *Store) GetExecutionByEmailLog(ctx context.Context, emailLogID uuid.UUID) (repository.StepExecution, error) {
	if err := s.lock("GetExecutionByEmailLog"); err != nil {
		s.mu.Unlock()
		return repository.StepExecution{}, err
	}
	defer s.mu.Unlock()
	for _, ex := range s.d.executions {
		if ex.EmailLogID.Valid && ex.EmailLogID.UUID == emailLogID {
			return ex, nil
		}
	}
	return repository.StepExecution{}, sql.ErrNoRows
}

func (s *Store) GetOpenExecutionForEnrollment(ctx context.Context, enrollmentID uuid.UUID) (repository.StepExecution, error) {
	if err := s.lock("GetOpenExecutionForEnrollment"); err != nil {
		s.mu.Unlock()
		return repository.StepExecution{}, err
	}
	defer s.mu.Unlock()
	for _, ex := range s.d.executions {
		if ex.EnrollmentID == enrollmentID && isOpen(ex.Status) {
			return ex, nil
		}
	}
	return repository.StepExecution{}, sql.ErrNoRows
}

func (s *Store) ListDueExecutionIDs(ctx context.Context, arg repository.ListDueExecutionIDsParams) ([]uuid.UUID, error) {
	if err := s.lock("ListDueExecutionIDs"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	due := sorted(s.d.executions, func(ex repository.StepExecution) bool {
		if ex.Status != "scheduled" || ex.ScheduledFor.After(arg.Now) {
			return false
		}
		e, ok := s.d.enrollments[ex.EnrollmentID]
		if !ok || e.Status != "active" {
			return false
		}
		seq := s.d.sequences[e.SequenceID]
		return (seq.SequenceType == "prospect_cadence") == arg.Prospect
	}, func(a, b repository.StepExecution) int { return a.ScheduledFor.Compare(b.ScheduledFor) })

	var ids []uuid.UUID
	for _, ex := range due {
		if arg.Limit > 0 && len(ids) >= int(arg.Limit) {
			break
		}
		ids = append(ids, ex.ID)
	}
	return ids, nil
}

func (s *Store) LockScheduledExecution(ctx context.Context, id uuid.UUID) (repository.StepExecution, error) {
	if err := s.lock("LockScheduledExecution"); err != nil {
		s.mu.Unlock()
		return repository.StepExecution{}, err
	}
	defer s.mu.Unlock()
	ex, ok := s.d.executions[id]
	if !ok || ex.Status != "scheduled" {
		return repository.StepExecution{}, sql.ErrNoRows
	}
	if e, ok := s.d.enrollments[ex.EnrollmentID]; !ok || e.Status != "active" {
		return repository.StepExecution{}, sql.ErrNoRows
	}
	return ex, nil
}

func (s *Store) LockPendingExecution(ctx context.Context, id uuid.UUID) (repository.StepExecution, error) {
	if err := s.lock("LockPendingExecution"); err != nil {
		s.mu.Unlock()
		return repository.StepExecution{}, err
	}
	defer s.mu.Unlock()
	ex, ok := s.d.executions[id]
	if !ok || ex.Status != "pending_approval" {
		return repository.StepExecution{}, sql.ErrNoRows
	}
	return ex, nil
}

func (s *Store) updateExecution(method string, id uuid.UUID, fn func(*repository.StepExecution)) error {
	if err := s.lock(method); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	ex, ok := s.d.executions[id]
	if !ok {
		return nil
	}
	fn(&ex)
	s.d.executions[id] = ex
	return nil
}

func (s *Store) MarkExecutionSent(ctx context.Context, arg repository.MarkExecutionSentParams) error {
	return s.updateExecution("MarkExecutionSent", arg.ID, func(ex *repository.StepExecution) {
		ex.Status = "sent"
		ex.SentAt = sql.NullTime{Time: arg.SentAt, Valid: true}
		ex.EmailLogID = arg.EmailLogID
		ex.TaskID = arg.TaskID
		ex.UpdatedAt = arg.SentAt
	})
}

func (s *Store) MarkExecutionFailed(ctx context.Context, arg repository.MarkExecutionFailedParams) error {
	return s.updateExecution("MarkExecutionFailed", arg.ID, func(ex *repository.StepExecution) {
		ex.Status = "failed"
		ex.ErrorMessage = nullString(arg.ErrorMessage)
		if arg.EmailLogID.Valid {
			ex.EmailLogID = arg.EmailLogID
		}
		ex.UpdatedAt = arg.UpdatedAt
	})
}

func (s *Store) MarkExecutionPendingApproval(ctx context.Context, arg repository.MarkExecutionPendingApprovalParams) error {
	return s.updateExecution("MarkExecutionPendingApproval", arg.ID, func(ex *repository.StepExecution) {
		ex.Status = "pending_approval"
		ex.AiSubject = nullString(arg.AiSubject)
		ex.AiBody = nullString(arg.AiBody)
		ex.UpdatedAt = arg.UpdatedAt
	})
}

func (s *Store) MarkExecutionExpired(ctx context.Context, arg repository.MarkExecutionExpiredParams) error {
	return s.updateExecution("MarkExecutionExpired", arg.ID, func(ex *repository.StepExecution) {
		ex.Status = "expired"
		ex.UpdatedAt = arg.UpdatedAt
	})
}

// =============================================================================
// AI drafts
// =============================================================================

func (s *Store) CreateAIDraft(ctx context.Context, arg repository.CreateAIDraftParams) (repository.AiDraft, error) {
	if err := s.lock("CreateAIDraft"); err != nil {
		s.mu.Unlock()
		return repository.AiDraft{}, err
	}
	defer s.mu.Unlock()
	for _, d := range s.d.drafts {
		if d.StepExecutionID == arg.StepExecutionID {
			return repository.AiDraft{}, unique("ai_drafts_step_execution_id_key")
		}
	}
	d := repository.AiDraft{
		ID:              uuid.New(),
		StepExecutionID: arg.StepExecutionID,
		EnrollmentID:    arg.EnrollmentID,
		Subject:         arg.Subject,
		Body:            arg.Body,
		Status:          "pending_review",
		ExpiresAt:       arg.ExpiresAt,
		CreatedAt:       arg.CreatedAt,
	}
	s.d.drafts[d.ID] = d
	return d, nil
}

func (s *Store) GetAIDraftForUpdate(ctx context.Context, id uuid.UUID) (repository.AiDraft, error) {
	if err := s.lock("GetAIDraftForUpdate"); err != nil {
		s.mu.Unlock()
		return repository.AiDraft{}, err
	}
	defer s.mu.Unlock()
	d, ok := s.d.drafts[id]
	if !ok {
		return repository.AiDraft{}, sql.ErrNoRows
	}
	return d, nil
}

func (s *Store) GetAIDraftByExecution(ctx context.Context, stepExecutionID uuid.UUID) (repository.AiDraft, error) {
	if err := s.lock("GetAIDraftByExecution"); err != nil {
		s.mu.Unlock()
		return repository.AiDraft{}, err
	}
	defer s.mu.Unlock()
	for _, d := range s.d.drafts {
		if d.StepExecutionID == stepExecutionID {
			return d, nil
		}
	}
	return repository.AiDraft{}, sql.ErrNoRows
}

func (s *Store) ListExpiredDraftIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	if err := s.lock("ListExpiredDraftIDs"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, d := range sorted(s.d.drafts,
		func(d repository.AiDraft) bool { return d.Status == "pending_review" && d.ExpiresAt.Before(now) },
		func(a, b repository.AiDraft) int { return a.ExpiresAt.Compare(b.ExpiresAt) }) {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *Store) ListApprovedUnsentDraftIDs(ctx context.Context, limit int32) ([]uuid.UUID, error) {
	if err := s.lock("ListApprovedUnsentDraftIDs"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	var ids []uuid.UUID
	for _, d := range sorted(s.d.drafts,
		func(d repository.AiDraft) bool {
			return d.Status == "approved" && s.d.executions[d.StepExecutionID].Status == "pending_approval"
		},
		func(a, b repository.AiDraft) int { return a.ApprovedAt.Time.Compare(b.ApprovedAt.Time) }) {
		if limit > 0 && len(ids) >= int(limit) {
			break
		}
		ids = append(ids, d.ID)
	}
	return ids, nil
}

func (s *Store) UpdateAIDraftStatus(ctx context.Context, arg repository.UpdateAIDraftStatusParams) error {
	if err := s.lock("UpdateAIDraftStatus"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	d, ok := s.d.drafts[arg.ID]
	if !ok {
		return nil
	}
	d.Status = arg.Status
	d.Subject = arg.Subject
	d.Body = arg.Body
	d.ApprovedAt = arg.ApprovedAt
	d.ApprovedBy = arg.ApprovedBy
	s.d.drafts[d.ID] = d
	return nil
}

// =============================================================================
// Email logs & replies
// =============================================================================

func (s *Store) CreateEmailLog(ctx context.Context, arg repository.CreateEmailLogParams) (repository.EmailLog, error) {
	if err := s.lock("CreateEmailLog"); err != nil {
		s.mu.Unlock()
		return repository.EmailLog{}, err
	}
	defer s.mu.Unlock()
	for _, l := range s.d.emailLogs {
		if l.MessageID == arg.MessageID {
			return repository.EmailLog{}, unique("idx_email_logs_message_id")
		}
	}
	id := arg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	l := repository.EmailLog{
		ID:              id,
		MessageID:       arg.MessageID,
		EmailType:       arg.EmailType,
		Status:          "pending",
		FromEmail:       arg.FromEmail,
		ToEmail:         arg.ToEmail,
		Subject:         arg.Subject,
		BodyText:        arg.BodyText,
		CompanyID:       arg.CompanyID,
		ContactID:       arg.ContactID,
		ContractID:      arg.ContractID,
		InvoiceID:       arg.InvoiceID,
		EnrollmentID:    arg.EnrollmentID,
		StepExecutionID: arg.StepExecutionID,
		TemplateID:      arg.TemplateID,
		CreatedAt:       arg.CreatedAt,
	}
	s.d.emailLogs[l.ID] = l
	return l, nil
}

func (s *Store) MarkEmailLogSent(ctx context.Context, arg repository.MarkEmailLogSentParams) error {
	if err := s.lock("MarkEmailLogSent"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	l, ok := s.d.emailLogs[arg.ID]
	if !ok {
		return nil
	}
	l.Status = "sent"
	l.SentAt = sql.NullTime{Time: arg.SentAt, Valid: true}
	s.d.emailLogs[l.ID] = l
	return nil
}

func (s *Store) MarkEmailLogFailed(ctx context.Context, arg repository.MarkEmailLogFailedParams) error {
	if err := s.lock("MarkEmailLogFailed"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	l, ok := s.d.emailLogs[arg.ID]
	if !ok {
		return nil
	}
	l.Status = "failed"
	l.ErrorMessage = nullString(arg.ErrorMessage)
	s.d.emailLogs[l.ID] = l
	return nil
}

func (s *Store) GetEmailLog(ctx context.Context, id uuid.UUID) (repository.EmailLog, error) {
	if err := s.lock("GetEmailLog"); err != nil {
		s.mu.Unlock()
		return repository.EmailLog{}, err
	}
	defer s.mu.Unlock()
	l, ok := s.d.emailLogs[id]
	if !ok {
		return repository.EmailLog{}, sql.ErrNoRows
	}
	return l, nil
}

func (s *Store) GetSequenceEmailByMessageID(ctx context.Context, messageID string) (repository.EmailLog, error) {
	if err := s.lock("GetSequenceEmailByMessageID"); err != nil {
		s.mu.Unlock()
		return repository.EmailLog{}, err
	}
	defer s.mu.Unlock()
	for _, l := range s.d.emailLogs {
		if l.MessageID == messageID && l.EmailType == "sequence" {
			return l, nil
		}
	}
	return repository.EmailLog{}, sql.ErrNoRows
}

func (s *Store) ListRecentSequenceEmailsTo(ctx context.Context, arg repository.ListRecentSequenceEmailsToParams) ([]repository.EmailLog, error) {
	if err := s.lock("ListRecentSequenceEmailsTo"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.emailLogs, func(l repository.EmailLog) bool {
		return strings.EqualFold(l.ToEmail, arg.ToEmail) && l.EmailType == "sequence" &&
			l.Status == "sent" && !l.SentAt.Time.Before(arg.Since)
	}, func(a, b repository.EmailLog) int { return b.SentAt.Time.Compare(a.SentAt.Time) }), nil
}

func (s *Store) ReplyExists(ctx context.Context, imapMessageID string) (bool, error) {
	if err := s.lock("ReplyExists"); err != nil {
		s.mu.Unlock()
		return false, err
	}
	defer s.mu.Unlock()
	for _, r := range s.d.replies {
		if r.ImapMessageID == imapMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CreateReply(ctx context.Context, arg repository.CreateReplyParams) (repository.Reply, error) {
	if err := s.lock("CreateReply"); err != nil {
		s.mu.Unlock()
		return repository.Reply{}, err
	}
	defer s.mu.Unlock()
	for _, r := range s.d.replies {
		if r.ImapMessageID == arg.ImapMessageID {
			return repository.Reply{}, unique("idx_replies_imap_message_id")
		}
	}
	r := repository.Reply{
		ID:               uuid.New(),
		ImapMessageID:    arg.ImapMessageID,
		InReplyTo:        arg.InReplyTo,
		ReferencesIds:    slices.Clone(arg.ReferencesIds),
		FromEmail:        arg.FromEmail,
		Subject:          arg.Subject,
		Body:             arg.Body,
		ReceivedAt:       arg.ReceivedAt,
		EmailLogID:       arg.EmailLogID,
		EnrollmentID:     arg.EnrollmentID,
		CompanyID:        arg.CompanyID,
		ContactID:        arg.ContactID,
		Classification:   arg.Classification,
		Confidence:       arg.Confidence,
		Method:           arg.Method,
		NeedsHumanReview: arg.NeedsHumanReview,
		ActionTaken:      arg.ActionTaken,
		TaskID:           arg.TaskID,
		CreatedAt:        arg.CreatedAt,
	}
	s.d.replies[r.ID] = r
	return r, nil
}

// =============================================================================
// Seasonal trigger dates
// =============================================================================

func (s *Store) GetSeasonalTriggerDate(ctx context.Context, arg repository.GetSeasonalTriggerDateParams) (repository.SeasonalTriggerDate, error) {
	if err := s.lock("GetSeasonalTriggerDate"); err != nil {
		s.mu.Unlock()
		return repository.SeasonalTriggerDate{}, err
	}
	defer s.mu.Unlock()
	for _, d := range s.d.seasonal {
		if d.HolidayType == arg.HolidayType && d.Year == arg.Year {
			return d, nil
		}
	}
	return repository.SeasonalTriggerDate{}, sql.ErrNoRows
}

func (s *Store) UpsertSeasonalTriggerDate(ctx context.Context, arg repository.UpsertSeasonalTriggerDateParams) (repository.SeasonalTriggerDate, error) {
	if err := s.lock("UpsertSeasonalTriggerDate"); err != nil {
		s.mu.Unlock()
		return repository.SeasonalTriggerDate{}, err
	}
	defer s.mu.Unlock()
	for id, d := range s.d.seasonal {
		if d.HolidayType == arg.HolidayType && d.Year == arg.Year {
			d.HolidayDate = arg.HolidayDate
			d.TriggerDate = arg.TriggerDate
			s.d.seasonal[id] = d
			return d, nil
		}
	}
	d := repository.SeasonalTriggerDate{
		ID:          uuid.New(),
		HolidayType: arg.HolidayType,
		Year:        arg.Year,
		HolidayDate: arg.HolidayDate,
		TriggerDate: arg.TriggerDate,
		CreatedAt:   arg.CreatedAt,
	}
	s.d.seasonal[d.ID] = d
	return d, nil
}

// =============================================================================
// CRM
// =============================================================================

func (s *Store) GetCompany(ctx context.Context, id uuid.UUID) (repository.Company, error) {
	if err := s.lock("GetCompany"); err != nil {
		s.mu.Unlock()
		return repository.Company{}, err
	}
	defer s.mu.Unlock()
	c, ok := s.d.companies[id]
	if !ok {
		return repository.Company{}, sql.ErrNoRows
	}
	return c, nil
}

func (s *Store) ListSeasonalCompanies(ctx context.Context, countries []string) ([]repository.Company, error) {
	if err := s.lock("ListSeasonalCompanies"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.companies, func(c repository.Company) bool {
		return c.Status == "active" && c.SeasonalOptIn && slices.Contains(countries, strings.ToUpper(c.Country))
	}, func(a, b repository.Company) int { return strings.Compare(a.Name, b.Name) }), nil
}

func (s *Store) GetContact(ctx context.Context, id uuid.UUID) (repository.Contact, error) {
	if err := s.lock("GetContact"); err != nil {
		s.mu.Unlock()
		return repository.Contact{}, err
	}
	defer s.mu.Unlock()
	c, ok := s.d.contacts[id]
	if !ok {
		return repository.Contact{}, sql.ErrNoRows
	}
	return c, nil
}

func contactOrder(a, b repository.Contact) int {
	if a.IsPrimary != b.IsPrimary {
		if a.IsPrimary {
			return -1
		}
		return 1
	}
	return a.CreatedAt.Compare(b.CreatedAt)
}

func (s *Store) GetContactByEmail(ctx context.Context, email string) (repository.Contact, error) {
	if err := s.lock("GetContactByEmail"); err != nil {
		s.mu.Unlock()
		return repository.Contact{}, err
	}
	defer s.mu.Unlock()
	found := sorted(s.d.contacts,
		func(c repository.Contact) bool { return strings.EqualFold(c.Email, email) }, contactOrder)
	if len(found) == 0 {
		return repository.Contact{}, sql.ErrNoRows
	}
	return found[0], nil
}

func (s *Store) ListCompanyContacts(ctx context.Context, companyID uuid.UUID) ([]repository.Contact, error) {
	if err := s.lock("ListCompanyContacts"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.contacts,
		func(c repository.Contact) bool { return c.CompanyID == companyID }, contactOrder), nil
}

func (s *Store) SetContactNotifications(ctx context.Context, arg repository.SetContactNotificationsParams) error {
	if err := s.lock("SetContactNotifications"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	c, ok := s.d.contacts[arg.ID]
	if !ok {
		return nil
	}
	c.ReceivesNotifications = arg.ReceivesNotifications
	s.d.contacts[c.ID] = c
	return nil
}

func (s *Store) GetContract(ctx context.Context, id uuid.UUID) (repository.Contract, error) {
	if err := s.lock("GetContract"); err != nil {
		s.mu.Unlock()
		return repository.Contract{}, err
	}
	defer s.mu.Unlock()
	c, ok := s.d.contracts[id]
	if !ok {
		return repository.Contract{}, sql.ErrNoRows
	}
	return c, nil
}

func sameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func byContractID(a, b repository.Contract) int { return strings.Compare(a.ID.String(), b.ID.String()) }

func (s *Store) ListRenewableContractsEndingOn(ctx context.Context, endDate time.Time) ([]repository.Contract, error) {
	if err := s.lock("ListRenewableContractsEndingOn"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.contracts, func(c repository.Contract) bool {
		return sameDate(c.EndDate, endDate) && c.Status == "Active" && c.RenewalReminders
	}, byContractID), nil
}

func (s *Store) ListActiveContracts(ctx context.Context) ([]repository.Contract, error) {
	if err := s.lock("ListActiveContracts"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.contracts,
		func(c repository.Contract) bool { return c.Status == "Active" }, byContractID), nil
}

func (s *Store) GetInvoice(ctx context.Context, id uuid.UUID) (repository.Invoice, error) {
	if err := s.lock("GetInvoice"); err != nil {
		s.mu.Unlock()
		return repository.Invoice{}, err
	}
	defer s.mu.Unlock()
	i, ok := s.d.invoices[id]
	if !ok {
		return repository.Invoice{}, sql.ErrNoRows
	}
	return i, nil
}

func (s *Store) ListOutstandingInvoicesDueOn(ctx context.Context, dueDate time.Time) ([]repository.Invoice, error) {
	if err := s.lock("ListOutstandingInvoicesDueOn"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.invoices, func(i repository.Invoice) bool {
		return sameDate(i.DueDate, dueDate) && (i.Status == "Sent" || i.Status == "Overdue")
	}, func(a, b repository.Invoice) int { return strings.Compare(a.ID.String(), b.ID.String()) }), nil
}

func isOpenStage(stage string) bool {
	return stage != "Won" && stage != "Lost"
}

func (s *Store) GetOpportunity(ctx context.Context, id uuid.UUID) (repository.Opportunity, error) {
	if err := s.lock("GetOpportunity"); err != nil {
		s.mu.Unlock()
		return repository.Opportunity{}, err
	}
	defer s.mu.Unlock()
	o, ok := s.d.opportunities[id]
	if !ok {
		return repository.Opportunity{}, sql.ErrNoRows
	}
	return o, nil
}

func (s *Store) GetOpenOpportunityForCompany(ctx context.Context, companyID uuid.UUID) (repository.Opportunity, error) {
	if err := s.lock("GetOpenOpportunityForCompany"); err != nil {
		s.mu.Unlock()
		return repository.Opportunity{}, err
	}
	defer s.mu.Unlock()
	found := sorted(s.d.opportunities, func(o repository.Opportunity) bool {
		return o.CompanyID == companyID && isOpenStage(o.Stage)
	}, func(a, b repository.Opportunity) int { return b.LastActivityAt.Compare(a.LastActivityAt) })
	if len(found) == 0 {
		return repository.Opportunity{}, sql.ErrNoRows
	}
	return found[0], nil
}

func (s *Store) ListNewOpportunities(ctx context.Context, since time.Time) ([]repository.Opportunity, error) {
	if err := s.lock("ListNewOpportunities"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.opportunities, func(o repository.Opportunity) bool {
		return !o.CreatedAt.Before(since) && (o.Stage == "New" || o.Stage == "Contacted")
	}, func(a, b repository.Opportunity) int { return a.CreatedAt.Compare(b.CreatedAt) }), nil
}

func (s *Store) ListStaleOpportunities(ctx context.Context, before time.Time) ([]repository.Opportunity, error) {
	if err := s.lock("ListStaleOpportunities"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.opportunities, func(o repository.Opportunity) bool {
		return o.LastActivityAt.Before(before) && isOpenStage(o.Stage)
	}, func(a, b repository.Opportunity) int { return a.LastActivityAt.Compare(b.LastActivityAt) }), nil
}

func (s *Store) UpdateOpportunityStage(ctx context.Context, arg repository.UpdateOpportunityStageParams) error {
	if err := s.lock("UpdateOpportunityStage"); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	o, ok := s.d.opportunities[arg.ID]
	if !ok {
		return nil
	}
	o.Stage = arg.Stage
	o.LastActivityAt = arg.LastActivityAt
	s.d.opportunities[o.ID] = o
	return nil
}

func (s *Store) GetQuote(ctx context.Context, id uuid.UUID) (repository.Quote, error) {
	if err := s.lock("GetQuote"); err != nil {
		s.mu.Unlock()
		return repository.Quote{}, err
	}
	defer s.mu.Unlock()
	q, ok := s.d.quotes[id]
	if !ok {
		return repository.Quote{}, sql.ErrNoRows
	}
	return q, nil
}

func (s *Store) ListSentQuotes(ctx context.Context, arg repository.ListSentQuotesParams) ([]repository.Quote, error) {
	if err := s.lock("ListSentQuotes"); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	defer s.mu.Unlock()
	return sorted(s.d.quotes, func(q repository.Quote) bool {
		return q.Status == "Sent" && q.SentAt.Valid &&
			!q.SentAt.Time.Before(arg.SentAfter) && q.SentAt.Time.Before(arg.SentBefore)
	}, func(a, b repository.Quote) int { return a.SentAt.Time.Compare(b.SentAt.Time) }), nil
}

func (s *Store) CreateTask(ctx context.Context, arg repository.CreateTaskParams) (repository.Task, error) {
	if err := s.lock("CreateTask"); err != nil {
		s.mu.Unlock()
		return repository.Task{}, err
	}
	defer s.mu.Unlock()
	t := repository.Task{
		ID:            uuid.New(),
		CompanyID:     arg.CompanyID,
		ContactID:     arg.ContactID,
		OpportunityID: arg.OpportunityID,
		Title:         arg.Title,
		Description:   arg.Description,
		DueDate:       arg.DueDate,
		AssigneeID:    arg.AssigneeID,
		Source:        arg.Source,
		Status:        "open",
		CreatedAt:     arg.CreatedAt,
	}
	s.d.tasks[t.ID] = t
	return t, nil
}

// =============================================================================
// Jobs
// =============================================================================

func (s *Store) EnqueueJob(ctx context.Context, arg repository.EnqueueJobParams) (repository.Job, error) {
	if err := s.lock("EnqueueJob"); err != nil {
		s.mu.Unlock()
		return repository.Job{}, err
	}
	defer s.mu.Unlock()
	for _, j := range s.d.jobs {
		if j.JobType == arg.JobType && (j.Status == "pending" || j.Status == "running") {
			return repository.Job{}, unique("idx_jobs_one_open_per_type")
		}
	}
	j := repository.Job{
		ID:          uuid.New(),
		JobType:     arg.JobType,
		Payload:     slices.Clone(arg.Payload),
		Status:      "pending",
		Priority:    arg.Priority,
		MaxAttempts: arg.MaxAttempts,
		ScheduledAt: arg.ScheduledAt,
		CreatedAt:   s.Now(),
	}
	s.d.jobs[j.ID] = j
	return j, nil
}

func (s *Store) DequeueJob(ctx context.Context) (repository.Job, error) {
	if err := s.lock("DequeueJob"); err != nil {
		s.mu.Unlock()
		return repository.Job{}, err
	}
	defer s.mu.Unlock()
	now := s.Now()
	ready := sorted(s.d.jobs, func(j repository.Job) bool {
		return j.Status == "pending" && !j.ScheduledAt.After(now)
	}, func(a, b repository.Job) int {
		if a.Priority != b.Priority {
			return int(b.Priority - a.Priority)
		}
		return a.ScheduledAt.Compare(b.ScheduledAt)
	})
	if len(ready) == 0 {
		return repository.Job{}, sql.ErrNoRows
	}
	return ready[0], nil
}

func (s *Store) updateJob(method string, id uuid.UUID, fn func(*repository.Job)) error {
	if err := s.lock(method); err != nil {
		s.mu.Unlock()
		return err
	}
	defer s.mu.Unlock()
	j, ok := s.d.jobs[id]
	if !ok {
		return nil
	}
	fn(&j)
	s.d.jobs[id] = j
	return nil
}

func (s *Store) UpdateJobStarted(ctx context.Context, id uuid.UUID) error {
	return s.updateJob("UpdateJobStarted", id, func(j *repository.Job) {
		j.Status = "running"
		j.StartedAt = sql.NullTime{Time: s.Now(), Valid: true}
		j.Attempts++
	})
}

func (s *Store) UpdateJobCompleted(ctx context.Context, id uuid.UUID) error {
	return s.updateJob("UpdateJobCompleted", id, func(j *repository.Job) {
		j.Status = "completed"
		j.CompletedAt = sql.NullTime{Time: s.Now(), Valid: true}
		j.ErrorMessage = sql.NullString{}
	})
}

func (s *Store) UpdateJobFailed(ctx context.Context, arg repository.UpdateJobFailedParams) error {
	return s.updateJob("UpdateJobFailed", arg.ID, func(j *repository.Job) {
		j.ErrorMessage = arg.ErrorMessage
		if arg.Permanent || j.Attempts >= j.MaxAttempts {
			j.Status = "failed"
			j.CompletedAt = sql.NullTime{Time: s.Now(), Valid: true}
			return
		}
		j.Status = "pending"
		backoff := 30 * time.Second << max(j.Attempts-1, 0)
		j.ScheduledAt = s.Now().Add(backoff)
	})
}

func (s *Store) RecoverStaleJobs(ctx context.Context, thresholdSeconds float64) (int64, error) {
	if err := s.lock("RecoverStaleJobs"); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	defer s.mu.Unlock()
	cutoff := s.Now().Add(-time.Duration(thresholdSeconds * float64(time.Second)))
	var n int64
	for id, j := range s.d.jobs {
		if j.Status == "running" && j.StartedAt.Time.Before(cutoff) {
			j.Status = "pending"
			j.StartedAt = sql.NullTime{}
			s.d.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteFinishedJobs(ctx context.Context, before time.Time) (int64, error) {
	if err := s.lock("DeleteFinishedJobs"); err != nil {
		s.mu.Unlock()
		return 0, err
	}
	defer s.mu.Unlock()
	var n int64
	for id, j := range s.d.jobs {
		if (j.Status == "completed" || j.Status == "failed") && j.CreatedAt.Before(before) {
			delete(s.d.jobs, id)
			n++
		}
	}
	return n, nil
}
