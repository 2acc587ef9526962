// Package feedback turns operator feedback into policy drafts for human review.
package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spigell/recruiter-loop/internal/ai"
	"github.com/spigell/recruiter-loop/internal/jobs"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/policy"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"
)

// Regenerator rewrites Guidelines sections.
type Regenerator interface {
	RegenerateGuidelines(ctx context.Context, req ai.RegenerateRequest) (map[string]json.RawMessage, error)
}

var guidelineSections = []string{
	model.SectionWorkflows,
	model.SectionTemplates,
	model.SectionDecisionTrees,
	model.SectionConstraints,
}

// Processor handles feedback jobs. Nothing it creates is activated.
type Processor struct {
	oracle Regenerator
	store  policy.Store
	logger *zap.Logger
}

// New creates a Processor.
func New(oracle Regenerator, store policy.Store, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{oracle: oracle, store: store, logger: logger}
}

// Handle creates the drafts requested by one feedback job.
func (p *Processor) Handle(ctx context.Context, job jobs.Job) error {
	fb := job.Feedback
	if fb == nil {
		return fmt.Errorf("%w: feedback job %s has no feedback", model.ErrValidation, job.ID)
	}
	log := p.logger.With(zap.String("tenant_id", job.TenantID), zap.String("task_id", job.TaskID), zap.String("operator", fb.Operator))

	// Redelivered jobs must not draft the half that already succeeded.
	source := ""
	if job.ID != "" {
		source = "feedback:" + job.ID
	}

	var errs []error
	if fb.UpdateGuidelines {
		if err := p.once(ctx, job.TenantID, model.KindGuidelines, source, log, func() (*model.PolicyVersion, error) {
			return p.draftGuidelines(ctx, job.TenantID, source, *fb)
		}); err != nil {
			errs = append(errs, fmt.Errorf("guidelines: %w", err))
		}
	}
	if fb.UpdateCriteria {
		if err := p.once(ctx, job.TenantID, model.KindCriteria, source, log, func() (*model.PolicyVersion, error) {
			return p.draftCriteria(ctx, job.TenantID, source, *fb)
		}); err != nil {
			errs = append(errs, fmt.Errorf("criteria: %w", err))
		}
	}
	return errors.Join(errs...)
}

// once runs draft unless a version with the same source already exists.
func (p *Processor) once(ctx context.Context, tenantID string, kind model.PolicyKind, source string, log *zap.Logger, draft func() (*model.PolicyVersion, error)) error {
	if source != "" {
		versions, err := p.store.List(ctx, tenantID, kind)
		if err != nil {
			return err
		}
		for _, v := range versions {
			if v.Source == source {
				log.Info("feedback draft already exists", zap.String("kind", string(kind)), zap.String("draft_id", v.ID))
				return nil
			}
		}
	}

	v, err := draft()
	if err != nil {
		return err
	}
	log.Info("draft created from feedback", zap.String("kind", string(kind)), zap.String("draft_id", v.ID), zap.Int("version", v.Number))
	return nil
}

func (p *Processor) draftGuidelines(ctx context.Context, tenantID, source string, fb jobs.Feedback) (*model.PolicyVersion, error) {
	active, err := p.store.Active(ctx, tenantID, model.KindGuidelines)
	if err != nil {
		return nil, err
	}

	sections, err := p.oracle.RegenerateGuidelines(ctx, ai.RegenerateRequest{
		TaskType:   fb.TaskType,
		Guidelines: active.Content,
		Learning: model.Learning{
			Insights:  []model.Insight{{Type: model.InsightImprovement, Description: fb.Text, Confidence: 1}},
			Reasoning: "operator feedback on reviewed output:\n" + fb.Content,
			Strategy:  model.LearnRegenerate,
		},
		Sections: guidelineSections,
	})
	if err != nil {
		return nil, err
	}

	var edits []model.Edit
	for _, name := range guidelineSections {
		if value, ok := sections[name]; ok {
			edits = append(edits, model.Edit{Path: name, Op: model.EditReplace, Value: value, Rationale: fb.Text})
		}
	}
	if len(edits) == 0 {
		return nil, fmt.Errorf("oracle returned no sections")
	}
	working, err := policy.NewWorkingCopy(active).Apply(edits...)
	if err != nil {
		p.logger.Warn("some regenerated sections were not applicable", zap.Error(err))
	}
	if !working.Dirty() {
		return nil, fmt.Errorf("no regenerated section could be applied")
	}
	doc, err := working.Document()
	if err != nil {
		return nil, err
	}

	return p.store.CreateDraft(ctx, policy.Draft{
		TenantID: tenantID,
		Kind:     model.KindGuidelines,
		Content:  doc,
		ParentID: active.ID,
		Author:   model.Agent("feedback:" + fb.Operator),
		Source:   source,
	})
}

// draftCriteria appends the feedback as a quality standard. The operator is the author.
func (p *Processor) draftCriteria(ctx context.Context, tenantID, source string, fb jobs.Feedback) (*model.PolicyVersion, error) {
	active, err := p.store.Active(ctx, tenantID, model.KindCriteria)
	if err != nil {
		return nil, err
	}

	text, err := json.Marshal(fb.Text)
	if err != nil {
		return nil, err
	}
	edit := model.Edit{Path: "quality_standards", Op: model.EditAdd, Value: text}
	if !gjson.GetBytes(active.Content, "quality_standards").IsArray() {
		edit.Op = model.EditReplace
		edit.Value = json.RawMessage("[" + string(text) + "]")
	}
	doc, err := policy.ApplyEdit(active.Content, edit)
	if err != nil {
		return nil, err
	}

	return p.store.CreateDraft(ctx, policy.Draft{
		TenantID: tenantID,
		Kind:     model.KindCriteria,
		Content:  doc,
		ParentID: active.ID,
		Author:   model.Human(fb.Operator),
		Source:   source,
	})
}
