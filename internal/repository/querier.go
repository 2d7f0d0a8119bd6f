package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Querier is the full statement set. *Queries implements it against Postgres
// and memstore implements it in memory for tests.
type Querier interface {
	// Sequences
	CreateSequence(ctx context.Context, arg CreateSequenceParams) (Sequence, error)
	GetSequence(ctx context.Context, id uuid.UUID) (Sequence, error)
	ListActiveSequencesByType(ctx context.Context, sequenceType string) ([]Sequence, error)
	UpdateSequenceStatus(ctx context.Context, arg UpdateSequenceStatusParams) error
	CreateSequenceStep(ctx context.Context, arg CreateSequenceStepParams) (SequenceStep, error)
	GetSequenceStep(ctx context.Context, id uuid.UUID) (SequenceStep, error)
	GetStepByOrdinal(ctx context.Context, arg GetStepByOrdinalParams) (SequenceStep, error)
	ListSequenceSteps(ctx context.Context, sequenceID uuid.UUID) ([]SequenceStep, error)

	// Enrollments
	CreateEnrollment(ctx context.Context, arg CreateEnrollmentParams) (Enrollment, error)
	GetEnrollment(ctx context.Context, id uuid.UUID) (Enrollment, error)
	GetEnrollmentForUpdate(ctx context.Context, id uuid.UUID) (Enrollment, error)
	GetEnrollmentByTrigger(ctx context.Context, arg GetEnrollmentByTriggerParams) (Enrollment, error)
	ListActiveEnrollmentsByCompany(ctx context.Context, companyID uuid.UUID) ([]Enrollment, error)
	ListEnrollmentsByContact(ctx context.Context, contactID uuid.UUID) ([]Enrollment, error)
	UpdateEnrollmentStatus(ctx context.Context, arg UpdateEnrollmentStatusParams) (Enrollment, error)
	UpdateEnrollmentStep(ctx context.Context, arg UpdateEnrollmentStepParams) error

	// Step executions
	CreateStepExecution(ctx context.Context, arg CreateStepExecutionParams) (StepExecution, error)
	GetStepExecution(ctx context.Context, id uuid.UUID) (StepExecution, error)
	GetExecutionByEmailLog(ctx context.Context, emailLogID uuid.UUID) (StepExecution, error)
	GetOpenExecutionForEnrollment(ctx context.Context, enrollmentID uuid.UUID) (StepExecution, error)
	ListDueExecutionIDs(ctx context.Context, arg ListDueExecutionIDsParams) ([]uuid.UUID, error)
	LockScheduledExecution(ctx context.Context, id uuid.UUID) (StepExecution, error)
	LockPendingExecution(ctx context.Context, id uuid.UUID) (StepExecution, error)
	MarkExecutionSent(ctx context.Context, arg MarkExecutionSentParams) error
	MarkExecutionFailed(ctx context.Context, arg MarkExecutionFailedParams) error
	MarkExecutionPendingApproval(ctx context.Context, arg MarkExecutionPendingApprovalParams) error
	MarkExecutionExpired(ctx context.Context, arg MarkExecutionExpiredParams) error

	// AI drafts
	CreateAIDraft(ctx context.Context, arg CreateAIDraftParams) (AiDraft, error)
	GetAIDraftForUpdate(ctx context.Context, id uuid.UUID) (AiDraft, error)
	GetAIDraftByExecution(ctx context.Context, stepExecutionID uuid.UUID) (AiDraft, error)
	ListExpiredDraftIDs(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	ListApprovedUnsentDraftIDs(ctx context.Context, limit int32) ([]uuid.UUID, error)
	UpdateAIDraftStatus(ctx context.Context, arg UpdateAIDraftStatusParams) error

	// Email logs & replies
	CreateEmailLog(ctx context.Context, arg CreateEmailLogParams) (EmailLog, error)
	MarkEmailLogSent(ctx context.Context, arg MarkEmailLogSentParams) error
	MarkEmailLogFailed(ctx context.Context, arg MarkEmailLogFailedParams) error
	GetEmailLog(ctx context.Context, id uuid.UUID) (EmailLog, error)
	GetSequenceEmailByMessageID(ctx context.Context, messageID string) (EmailLog, error)
	ListRecentSequenceEmailsTo(ctx context.Context, arg ListRecentSequenceEmailsToParams) ([]EmailLog, error)
	ReplyExists(ctx context.Context, imapMessageID string) (bool, error)
	CreateReply(ctx context.Context, arg CreateReplyParams) (Reply, error)

	// Seasonal trigger dates
	GetSeasonalTriggerDate(ctx context.Context, arg GetSeasonalTriggerDateParams) (SeasonalTriggerDate, error)
	UpsertSeasonalTriggerDate(ctx context.Context, arg UpsertSeasonalTriggerDateParams) (SeasonalTriggerDate, error)

	// CRM
	GetCompany(ctx context.Context, id uuid.UUID) (Company, error)
	ListSeasonalCompanies(ctx context.Context, countries []string) ([]Company, error)
	GetContact(ctx context.Context, id uuid.UUID) (Contact, error)
	GetContactByEmail(ctx context.Context, email string) (Contact, error)
	ListCompanyContacts(ctx context.Context, companyID uuid.UUID) ([]Contact, error)
	SetContactNotifications(ctx context.Context, arg SetContactNotificationsParams) error
	GetContract(ctx context.Context, id uuid.UUID) (Contract, error)
	ListRenewableContractsEndingOn(ctx context.Context, endDate time.Time) ([]Contract, error)
	ListActiveContracts(ctx context.Context) ([]Contract, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error)
	ListOutstandingInvoicesDueOn(ctx context.Context, dueDate time.Time) ([]Invoice, error)
	GetOpportunity(ctx context.Context, id uuid.UUID) (Opportunity, error)
	GetOpenOpportunityForCompany(ctx context.Context, companyID uuid.UUID) (Opportunity, error)
	ListNewOpportunities(ctx context.Context, since time.Time) ([]Opportunity, error)
	ListStaleOpportunities(ctx context.Context, before time.Time) ([]Opportunity, error)
	UpdateOpportunityStage(ctx context.Context, arg UpdateOpportunityStageParams) error
	GetQuote(ctx context.Context, id uuid.UUID) (Quote, error)
	ListSentQuotes(ctx context.Context, arg ListSentQuotesParams) ([]Quote, error)
	CreateTask(ctx context.Context, arg CreateTaskParams) (Task, error)

	// Jobs
	EnqueueJob(ctx context.Context, arg EnqueueJobParams) (Job, error)
	DequeueJob(ctx context.Context) (Job, error)
	UpdateJobStarted(ctx context.Context, id uuid.UUID) error
	UpdateJobCompleted(ctx context.Context, id uuid.UUID) error
	UpdateJobFailed(ctx context.Context, arg UpdateJobFailedParams) error
	RecoverStaleJobs(ctx context.Context, thresholdSeconds float64) (int64, error)
	DeleteFinishedJobs(ctx context.Context, before time.Time) (int64, error)
}

var _ Querier = (*Queries)(nil)
