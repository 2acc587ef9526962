package intake

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/orchestrator"
	"github.com/spigell/recruiter-loop/internal/outreach"

	"go.uber.org/zap"
)

type candidateRequiredFilter struct {
	registry *orchestrator.Registry
}

// NewCandidateRequired drops requests for externally visible task types that name no candidate.
func NewCandidateRequired(registry *orchestrator.Registry) Filter {
	return &candidateRequiredFilter{registry: registry}
}

func (f *candidateRequiredFilter) Name() string { return "candidate_required" }

func (f *candidateRequiredFilter) Disable(string) {}

func (f *candidateRequiredFilter) IsEnabled() bool { return true }

func (f *candidateRequiredFilter) Apply(_ context.Context, reqs []orchestrator.Request) ([]orchestrator.Request, []Dropped, error) {
	kept, dropped := partition(reqs, func(req orchestrator.Request) string {
		spec, ok := f.registry.Lookup(req.Type)
		if !ok || spec.Class == model.ClassSandboxed {
			return ""
		}
		if candidateID(req) == "" {
			return "no candidate_id in input"
		}
		return ""
	})
	return kept, dropped, nil
}

type doNotContactFilter struct {
	path   string
	logger *zap.Logger
}

// NewDoNotContact drops requests for candidates listed in the do-not-contact file. An empty path disables it.
func NewDoNotContact(path string, logger *zap.Logger) Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &doNotContactFilter{path: strings.TrimSpace(path), logger: logger}
}

func (f *doNotContactFilter) Name() string { return "do_not_contact" }

func (f *doNotContactFilter) Disable(string) {}

func (f *doNotContactFilter) IsEnabled() bool { return true }

func (f *doNotContactFilter) Apply(_ context.Context, reqs []orchestrator.Request) ([]orchestrator.Request, []Dropped, error) {
	if f.path == "" {
		return reqs, nil, nil
	}

	list, err := ReadDoNotContact(f.path)
	if err != nil {
		return nil, nil, fmt.Errorf("reading do-not-contact file: %w", err)
	}
	ids := list.CandidateIDs()

	kept, dropped := partition(reqs, func(req orchestrator.Request) string {
		if id := candidateID(req); id != "" && slices.Contains(ids, id) {
			return "candidate is on the do-not-contact list"
		}
		return ""
	})
	if len(dropped) > 0 {
		f.logger.Info("excluding requests based on do-not-contact file",
			zap.String("path", f.path),
			zap.Int("excluded", len(dropped)),
			zap.Int("requests_left", len(kept)),
		)
	}
	return kept, dropped, nil
}

func (f *doNotContactFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}

type excludedCompaniesFilter struct {
	companies []string
}

// NewExcludedCompanies drops requests whose input names one of the companies, compared case-insensitively.
func NewExcludedCompanies(companies []string) Filter {
	normalized := make([]string, 0, len(companies))
	for _, c := range companies {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			normalized = append(normalized, c)
		}
	}
	return &excludedCompaniesFilter{companies: normalized}
}

func (f *excludedCompaniesFilter) Name() string { return "excluded_companies" }

func (f *excludedCompaniesFilter) Disable(string) {}

func (f *excludedCompaniesFilter) IsEnabled() bool { return true }

func (f *excludedCompaniesFilter) Apply(_ context.Context, reqs []orchestrator.Request) ([]orchestrator.Request, []Dropped, error) {
	if len(f.companies) == 0 {
		return reqs, nil, nil
	}
	kept, dropped := partition(reqs, func(req orchestrator.Request) string {
		company := strings.ToLower(inputString(req, "current_company"))
		if company != "" && slices.Contains(f.companies, company) {
			return "candidate works at an excluded company"
		}
		return ""
	})
	return kept, dropped, nil
}

func (f *excludedCompaniesFilter) Status() Status {
	details := map[string]string{}
	if len(f.companies) > 0 {
		details["companies"] = strings.Join(f.companies, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}

// ConversationReader reads the message history with a candidate.
type ConversationReader interface {
	Conversation(ctx context.Context, candidateID string) ([]*outreach.Message, error)
}

type alreadyContactedFilter struct {
	reader   ConversationReader
	disabled bool
	reason   string
	logger   *zap.Logger
}

// NewAlreadyContacted drops first-contact outreach for candidates that already have a conversation.
func NewAlreadyContacted(reader ConversationReader, logger *zap.Logger) Filter {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &alreadyContactedFilter{reader: reader, logger: logger}
	if reader == nil {
		f.Disable("outreach api is not configured")
	}
	return f
}

func (f *alreadyContactedFilter) Name() string { return "already_contacted" }

func (f *alreadyContactedFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *alreadyContactedFilter) IsEnabled() bool { return !f.disabled }

func (f *alreadyContactedFilter) Apply(ctx context.Context, reqs []orchestrator.Request) ([]orchestrator.Request, []Dropped, error) {
	var lookupErr error
	kept, dropped := partition(reqs, func(req orchestrator.Request) string {
		if lookupErr != nil || (req.Type != model.TaskSendOutreach && req.Type != model.TaskDraftOutreach) {
			return ""
		}
		id := candidateID(req)
		if id == "" {
			return ""
		}
		messages, err := f.reader.Conversation(ctx, id)
		if err != nil {
			lookupErr = fmt.Errorf("get conversation of %s: %w", id, err)
			return ""
		}
		if len(messages) > 0 {
			f.logger.Debug("candidate already contacted", zap.String("candidate_id", id), zap.Int("messages", len(messages)))
			return "candidate already has a conversation"
		}
		return ""
	})
	if lookupErr != nil {
		return nil, nil, lookupErr
	}
	return kept, dropped, nil
}

func (f *alreadyContactedFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"outreach_api": strconv.FormatBool(f.reader != nil)},
	}
}
