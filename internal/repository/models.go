package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

type AiDraft struct {
	ID              uuid.UUID
	StepExecutionID uuid.UUID
	EnrollmentID    uuid.UUID
	Subject         string
	Body            string
	Status          string
	ExpiresAt       time.Time
	ApprovedAt      sql.NullTime
	ApprovedBy      sql.NullString
	CreatedAt       time.Time
}

type Company struct {
	ID               uuid.UUID
	Name             string
	Country          string
	Status           string
	SeasonalOptIn    bool
	AccountManagerID uuid.NullUUID
	CreatedAt        time.Time
}

type Contact struct {
	ID                        uuid.UUID
	CompanyID                 uuid.UUID
	FirstName                 string
	LastName                  string
	Email                     string
	Language                  string
	IsPrimary                 bool
	IsDecisionMaker           bool
	IsBilling                 bool
	ReceivesNotifications     bool
	ReceivesRenewalReminders  bool
	ReceivesPaymentReminders  bool
	ReceivesQuarterlyUpdates  bool
	ReceivesSeasonalGreetings bool
	ReceivesSalesOutreach     bool
	CreatedAt                 time.Time
}

type Contract struct {
	ID                uuid.UUID
	CompanyID         uuid.UUID
	Number            string
	StartDate         time.Time
	EndDate           time.Time
	Status            string
	RenewalReminders  bool
	MonthlyValueCents int64
	Currency          string
	ZoneCount         int32
	DocumentKey       sql.NullString
}

type EmailLog struct {
	ID              uuid.UUID
	MessageID       string
	EmailType       string
	Status          string
	FromEmail       string
	ToEmail         string
	Subject         string
	BodyText        string
	CompanyID       uuid.NullUUID
	ContactID       uuid.NullUUID
	ContractID      uuid.NullUUID
	InvoiceID       uuid.NullUUID
	EnrollmentID    uuid.NullUUID
	StepExecutionID uuid.NullUUID
	TemplateID      uuid.NullUUID
	ErrorMessage    sql.NullString
	CreatedAt       time.Time
	SentAt          sql.NullTime
}

type Enrollment struct {
	ID                uuid.UUID
	SequenceID        uuid.UUID
	CompanyID         uuid.UUID
	ContactID         uuid.UUID
	Status            string
	Source            string
	TriggerEntityType sql.NullString
	TriggerEntityID   sql.NullString
	TriggerContext    pqtype.NullRawMessage
	CurrentStep       int32
	PauseReason       sql.NullString
	EnrolledAt        time.Time
	PausedAt          sql.NullTime
	CompletedAt       sql.NullTime
	CancelledAt       sql.NullTime
	UpdatedAt         time.Time
}

type Invoice struct {
	ID          uuid.UUID
	CompanyID   uuid.UUID
	ContractID  uuid.NullUUID
	Number      string
	AmountCents int64
	Currency    string
	DueDate     time.Time
	Status      string
	DocumentKey sql.NullString
}

type Job struct {
	ID           uuid.UUID
	JobType      string
	Payload      []byte
	Status       string
	Priority     int32
	Attempts     int32
	MaxAttempts  int32
	ScheduledAt  time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
	ErrorMessage sql.NullString
	CreatedAt    time.Time
}

type Opportunity struct {
	ID             uuid.UUID
	CompanyID      uuid.UUID
	ContactID      uuid.NullUUID
	Name           string
	Stage          string
	OwnerID        uuid.NullUUID
	ValueCents     int64
	Currency       string
	CreatedAt      time.Time
	LastActivityAt time.Time
}

type Quote struct {
	ID            uuid.UUID
	OpportunityID uuid.UUID
	CompanyID     uuid.UUID
	ContactID     uuid.NullUUID
	Number        string
	AmountCents   int64
	Currency      string
	Status        string
	SentAt        sql.NullTime
	DocumentKey   sql.NullString
}

type Reply struct {
	ID               uuid.UUID
	ImapMessageID    string
	InReplyTo        sql.NullString
	ReferencesIds    []string
	FromEmail        string
	Subject          string
	Body             string
	ReceivedAt       time.Time
	EmailLogID       uuid.NullUUID
	EnrollmentID     uuid.NullUUID
	CompanyID        uuid.NullUUID
	ContactID        uuid.NullUUID
	Classification   string
	Confidence       float64
	Method           string
	NeedsHumanReview bool
	ActionTaken      string
	TaskID           uuid.NullUUID
	CreatedAt        time.Time
}

type SeasonalTriggerDate struct {
	ID          uuid.UUID
	HolidayType string
	Year        int32
	HolidayDate time.Time
	TriggerDate time.Time
	CreatedAt   time.Time
}

type Sequence struct {
	ID                uuid.UUID
	Name              string
	Description       string
	SequenceType      string
	Status            string
	Department        string
	FromEmail         sql.NullString
	TriggerOffsetDays int32
	TriggerEvent      sql.NullString
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type SequenceStep struct {
	ID              uuid.UUID
	SequenceID      uuid.UUID
	Ordinal         int32
	DelayDays       int32
	ActionType      string
	SubjectTemplate string
	BodyTemplate    string
	Translations    pqtype.NullRawMessage
	AiPrompt        string
	TaskTitle       string
	TargetStage     sql.NullString
	AttachDocument  bool
	CreatedAt       time.Time
}

type StepExecution struct {
	ID           uuid.UUID
	EnrollmentID uuid.UUID
	StepID       uuid.UUID
	StepOrdinal  int32
	Status       string
	ScheduledFor time.Time
	SentAt       sql.NullTime
	EmailLogID   uuid.NullUUID
	TaskID       uuid.NullUUID
	AiSubject    sql.NullString
	AiBody       sql.NullString
	ErrorMessage sql.NullString
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Task struct {
	ID            uuid.UUID
	CompanyID     uuid.UUID
	ContactID     uuid.NullUUID
	OpportunityID uuid.NullUUID
	Title         string
	Description   string
	DueDate       time.Time
	AssigneeID    uuid.NullUUID
	Source        string
	Status        string
	CreatedAt     time.Time
}
