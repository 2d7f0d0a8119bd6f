// Package service contains the business logic layer.
//
// This file implements sequence authoring: a sequence is created as a draft,
// gains steps while in draft, and is frozen once activated.
package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/DukeRupert/cadence/internal/clock"
	"github.com/DukeRupert/cadence/internal/domain"
	"github.com/DukeRupert/cadence/internal/render"
	"github.com/DukeRupert/cadence/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// =============================================================================
// Parameters
// =============================================================================

// CreateSequenceParams describes a new sequence.
type CreateSequenceParams struct {
	Name              string              `validate:"required,max=200"`
	Description       string              `validate:"max=2000"`
	Type              domain.SequenceType `validate:"required"`
	Department        domain.Department   `validate:"required"`
	FromEmail         string              `validate:"omitempty,email"`
	TriggerOffsetDays int                 `validate:"gte=0,lte=365"`
	TriggerEvent      domain.TriggerEvent
}

// AddStepParams describes the next step of a draft sequence. The ordinal is
// assigned by the service.
type AddStepParams struct {
	SequenceID      uuid.UUID         `validate:"required"`
	DelayDays       int               `validate:"gte=0,lte=365"`
	Action          domain.ActionType `validate:"required"`
	SubjectTemplate string            `validate:"max=500"`
	BodyTemplate    string
	Translations    map[string]render.Variant
	AIPrompt        string
	TaskTitle       string `validate:"max=500"`
	TargetStage     domain.OpportunityStage
	AttachDocument  bool
}

// =============================================================================
// Implementation
// =============================================================================

// SequenceService authors sequences and their steps.
type SequenceService struct {
	store    repository.Store
	clock    clock.Clock
	logger   *slog.Logger
	validate *validator.Validate
}

// NewSequenceService creates a SequenceService.
func NewSequenceService(store repository.Store, clk clock.Clock, logger *slog.Logger) *SequenceService {
	return &SequenceService{
		store:    store,
		clock:    clk,
		logger:   logger,
		validate: newValidator(),
	}
}

// Create stores a new sequence in draft status.
func (s *SequenceService) Create(ctx context.Context, p CreateSequenceParams) (repository.Sequence, error) {
	const op = "sequence.create"

	p.Name = strings.TrimSpace(p.Name)
	if err := s.validate.Struct(p); err != nil {
		return repository.Sequence{}, validationError(op, err)
	}
	if !p.Type.IsValid() {
		return repository.Sequence{}, domain.NewValidationError(op, "type", "unknown sequence type")
	}
	if !p.Department.IsValid() {
		return repository.Sequence{}, domain.NewValidationError(op, "department", "unknown department")
	}
	if p.Type.IsProspect() {
		if !p.TriggerEvent.IsValid() {
			return repository.Sequence{}, domain.NewValidationError(op, "triggerevent", "prospect cadences need a trigger event")
		}
	} else if p.TriggerEvent != "" {
		return repository.Sequence{}, domain.NewValidationError(op, "triggerevent", "only prospect cadences take a trigger event")
	}

	seq, err := s.store.CreateSequence(ctx, repository.CreateSequenceParams{
		Name:              p.Name,
		Description:       p.Description,
		SequenceType:      p.Type.String(),
		Department:        string(p.Department),
		FromEmail:         repository.NullString(strings.TrimSpace(p.FromEmail)),
		TriggerOffsetDays: int32(p.TriggerOffsetDays),
		TriggerEvent:      repository.NullString(string(p.TriggerEvent)),
		CreatedAt:         s.clock.Now(),
	})
	if err != nil {
		return repository.Sequence{}, domain.Internal(err, op, "create sequence")
	}
	s.logger.Info("Sequence created", "sequence_id", seq.ID, "type", seq.SequenceType, "name", seq.Name)
	return seq, nil
}

// AddStep appends a step to a draft sequence.
func (s *SequenceService) AddStep(ctx context.Context, p AddStepParams) (repository.SequenceStep, error) {
	const op = "sequence.add_step"

	if err := s.validate.Struct(p); err != nil {
		return repository.SequenceStep{}, validationError(op, err)
	}
	if err := validateStepAction(op, p); err != nil {
		return repository.SequenceStep{}, err
	}

	var translations pqtype.NullRawMessage
	if len(p.Translations) > 0 {
		raw, err := json.Marshal(p.Translations)
		if err != nil {
			return repository.SequenceStep{}, domain.Internal(err, op, "encode translations")
		}
		translations = pqtype.NullRawMessage{RawMessage: raw, Valid: true}
	}

	var step repository.SequenceStep
	err := s.store.ExecTx(ctx, func(q repository.Querier) error {
		seq, err := q.GetSequence(ctx, p.SequenceID)
		if err != nil {
			if repository.IsNotFound(err) {
				return domain.NotFound(op, "sequence", p.SequenceID.String())
			}
			return domain.Internal(err, op, "load sequence")
		}
		if domain.SequenceStatus(seq.Status) != domain.SequenceStatusDraft {
			return domain.Invalid(op, "steps are frozen once a sequence leaves draft")
		}
		if p.Action == domain.ActionSendAIDraft && !domain.SequenceType(seq.SequenceType).IsProspect() {
			return domain.Invalid(op, "AI drafts are only available in prospect cadences")
		}

		existing, err := q.ListSequenceSteps(ctx, seq.ID)
		if err != nil {
			return domain.Internal(err, op, "list steps")
		}

		step, err = q.CreateSequenceStep(ctx, repository.CreateSequenceStepParams{
			SequenceID:      seq.ID,
			Ordinal:         int32(len(existing) + 1),
			DelayDays:       int32(p.DelayDays),
			ActionType:      p.Action.String(),
			SubjectTemplate: p.SubjectTemplate,
			BodyTemplate:    p.BodyTemplate,
			Translations:    translations,
			AiPrompt:        p.AIPrompt,
			TaskTitle:       p.TaskTitle,
			TargetStage:     repository.NullString(string(p.TargetStage)),
			AttachDocument:  p.AttachDocument,
			CreatedAt:       s.clock.Now(),
		})
		if err != nil {
			if repository.IsUniqueViolation(err) {
				return domain.Conflict(op, "a step was added concurrently; retry")
			}
			return domain.Internal(err, op, "create step")
		}
		return nil
	})
	if err != nil {
		return repository.SequenceStep{}, err
	}
	return step, nil
}

func validateStepAction(op string, p AddStepParams) error {
	if !p.Action.IsValid() {
		return domain.NewValidationError(op, "action", "unknown action type")
	}
	switch p.Action {
	case domain.ActionSendTemplate:
		if strings.TrimSpace(p.SubjectTemplate) == "" || strings.TrimSpace(p.BodyTemplate) == "" {
			return domain.NewValidationError(op, "subjecttemplate", "send_template steps need a subject and body")
		}
	case domain.ActionCreateTask:
		if strings.TrimSpace(p.TaskTitle) == "" {
			return domain.NewValidationError(op, "tasktitle", "create_task steps need a task title")
		}
	case domain.ActionAdvanceStage:
		if !p.TargetStage.IsValid() {
			return domain.NewValidationError(op, "targetstage", "advance_stage steps need a valid target stage")
		}
	}
	for code, v := range p.Translations {
		if strings.TrimSpace(code) == "" || (v.Subject == "" && v.Body == "") {
			return domain.NewValidationError(op, "translations", "translations need a language code and content")
		}
	}
	return nil
}

// Activate moves a sequence to active. Draft sequences need at least one
// step with contiguous ordinals.
func (s *SequenceService) Activate(ctx context.Context, id uuid.UUID) error {
	const op = "sequence.activate"
	return s.store.ExecTx(ctx, func(q repository.Querier) error {
		seq, err := s.load(ctx, q, op, id)
		if err != nil {
			return err
		}
		current := domain.SequenceStatus(seq.Status)
		if !current.CanTransitionTo(domain.SequenceStatusActive) {
			return domain.Invalid(op, "cannot activate a "+seq.Status+" sequence")
		}

		steps, err := q.ListSequenceSteps(ctx, id)
		if err != nil {
			return domain.Internal(err, op, "list steps")
		}
		if len(steps) == 0 {
			return domain.Invalid(op, "a sequence needs at least one step")
		}
		ordinals := make([]int, len(steps))
		for i, st := range steps {
			ordinals[i] = int(st.Ordinal)
		}
		if err := domain.ValidateStepOrdinals(ordinals); err != nil {
			return domain.Invalid(op, err.Error())
		}

		if err := s.setStatus(ctx, q, op, id, domain.SequenceStatusActive); err != nil {
			return err
		}
		s.logger.Info("Sequence activated", "sequence_id", id, "steps", len(steps))
		return nil
	})
}

// Pause stops new enrollments into an active sequence.
func (s *SequenceService) Pause(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, "sequence.pause", id, domain.SequenceStatusPaused)
}

// Archive retires a sequence.
func (s *SequenceService) Archive(ctx context.Context, id uuid.UUID) error {
	return s.transition(ctx, "sequence.archive", id, domain.SequenceStatusArchived)
}

func (s *SequenceService) transition(ctx context.Context, op string, id uuid.UUID, target domain.SequenceStatus) error {
	return s.store.ExecTx(ctx, func(q repository.Querier) error {
		seq, err := s.load(ctx, q, op, id)
		if err != nil {
			return err
		}
		if !domain.SequenceStatus(seq.Status).CanTransitionTo(target) {
			return domain.Invalid(op, "cannot move a "+seq.Status+" sequence to "+target.String())
		}
		return s.setStatus(ctx, q, op, id, target)
	})
}

func (s *SequenceService) load(ctx context.Context, q repository.Querier, op string, id uuid.UUID) (repository.Sequence, error) {
	seq, err := q.GetSequence(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return repository.Sequence{}, domain.NotFound(op, "sequence", id.String())
		}
		return repository.Sequence{}, domain.Internal(err, op, "load sequence")
	}
	return seq, nil
}

func (s *SequenceService) setStatus(ctx context.Context, q repository.Querier, op string, id uuid.UUID, status domain.SequenceStatus) error {
	if err := q.UpdateSequenceStatus(ctx, repository.UpdateSequenceStatusParams{
		ID:        id,
		Status:    status.String(),
		UpdatedAt: s.clock.Now(),
	}); err != nil {
		return domain.Internal(err, op, "update sequence status")
	}
	return nil
}
