package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spigell/recruiter-loop/internal/logger"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/queue"
	"github.com/spigell/recruiter-loop/internal/utils"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptApprove = "Approve"
	PromptReject  = "Reject"
	PromptEdit    = "Edit and approve"
	PromptSkip    = "Skip"
	PromptBack    = "back"
	PromptRefresh = "Refresh"
	previewLength = 160
)

var errExit = errors.New("exit requested")

// reviewBackend is the approval queue, local or behind the HTTP API.
type reviewBackend interface {
	Pending(ctx context.Context, tenantID string) ([]queue.QueuedTask, error)
	Decide(ctx context.Context, d queue.Decision) (*model.Task, error)
}

type localBackend struct {
	queue *queue.Queue
}

func (b localBackend) Pending(ctx context.Context, tenantID string) ([]queue.QueuedTask, error) {
	page, err := b.queue.GetPending(ctx, queue.Filter{TenantID: tenantID, Limit: queue.MaxPageSize})
	if err != nil {
		return nil, err
	}
	return page.Tasks, nil
}

func (b localBackend) Decide(ctx context.Context, d queue.Decision) (*model.Task, error) {
	return b.queue.ProcessDecision(ctx, d)
}

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Review pending tasks of a running server interactively",
	Run: func(cmd *cobra.Command, _ []string) {
		logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
		if err != nil {
			log.Fatalf("creating a logger: %s", err)
		}

		operator, _ := cmd.Flags().GetString("operator")
		tenant, _ := cmd.Flags().GetString("tenant")
		if strings.TrimSpace(operator) == "" {
			logger.Fatal("operator is required", zap.String("hint", "pass --operator with your name"))
		}

		backend := newAPIClient(viper.GetString("server-url"))
		if err := reviewLoop(cmd.Context(), backend, tenant, operator, logger); err != nil && !errors.Is(err, errExit) {
			logger.Fatal("exiting", zap.Error(err))
		}
	},
}

func init() {
	rootCmd.AddCommand(reviewCmd)

	reviewCmd.Flags().StringP("operator", "o", "", "your name, recorded on every decision")
	reviewCmd.Flags().StringP("tenant", "t", "", "review only this tenant")
}

func taskLabel(t queue.QueuedTask) string {
	return fmt.Sprintf("%s %s / %s / %s / %s / %.2f / waiting %.0fm",
		t.ID, t.TenantID, t.Type, t.Priority, t.EscalationReason, t.Confidence, t.WaitSeconds/60,
	)
}

func reviewLoop(ctx context.Context, backend reviewBackend, tenantID, operator string, logger *zap.Logger) error {
	for {
		pending, err := backend.Pending(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("get pending tasks: %w", err)
		}
		logger.Info("current list of pending tasks", zap.Int("count", len(pending)))
		if len(pending) == 0 {
			return errExit
		}

		items := make([]string, 0, len(pending)+2)
		for _, t := range pending {
			items = append(items, taskLabel(t))
		}

		taskPrompt := promptui.Select{
			Label: "Choose a task and press ENTER",
			Items: append(items, PromptRefresh, PromptBack),
			Size:  10,
		}
		_, selected, err := taskPrompt.Run()
		if err != nil {
			return err
		}

		switch selected {
		case PromptBack:
			return errExit
		case PromptRefresh:
			continue
		}

		taskID := strings.Split(selected, " ")[0]
		var task *queue.QueuedTask
		for i := range pending {
			if pending[i].ID == taskID {
				task = &pending[i]
			}
		}
		if task == nil {
			return fmt.Errorf("there is no such task id %s", taskID)
		}
		if err := reviewTask(ctx, backend, task, operator, logger); err != nil {
			return err
		}
	}
}

func reviewTask(ctx context.Context, backend reviewBackend, task *queue.QueuedTask, operator string, logger *zap.Logger) error {
	fmt.Printf("\n%s (%s)\n\n%s\n\n", task.Type, task.EscalationReason, task.Payload.Content)

	actionPrompt := promptui.Select{
		Label: "Decision",
		Items: []string{PromptApprove, PromptReject, PromptEdit, PromptSkip},
	}
	_, action, err := actionPrompt.Run()
	if err != nil {
		return err
	}

	d := queue.Decision{TaskID: task.ID, Operator: operator}
	switch action {
	case PromptSkip:
		return nil
	case PromptApprove:
		d.Action = queue.ActionApprove
	case PromptReject:
		d.Action = queue.ActionReject
		if d.Reason, err = ask("Reason", true); err != nil {
			return err
		}
	case PromptEdit:
		d.Action = queue.ActionEdit
		if d.Content, err = ask("Replacement content", true); err != nil {
			return err
		}
	}

	if d.Feedback, err = ask("Feedback for the agent (optional)", false); err != nil {
		return err
	}
	if d.Feedback != "" {
		d.SuggestGuidelinesUpdate = confirm("Draft a guidelines update from this feedback")
		d.SuggestCriteriaUpdate = confirm("Draft a criteria update from this feedback")
	}

	updated, err := backend.Decide(ctx, d)
	if err != nil && updated == nil {
		logger.Warn("decision not recorded", zap.String("task_id", task.ID), zap.Error(err))
		return nil
	}
	if err != nil {
		logger.Warn("decision recorded but execution not queued", zap.String("task_id", task.ID), zap.Error(err))
	}
	logger.Info("decision recorded",
		zap.String("task_id", updated.ID),
		zap.String("status", string(updated.Status)),
		zap.String("content", utils.TruncateForLog(updated.Payload.Content, previewLength)),
	)
	return nil
}

func ask(label string, required bool) (string, error) {
	p := promptui.Prompt{Label: label}
	if required {
		p.Validate = func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("value is required")
			}
			return nil
		}
	}
	value, err := p.Run()
	return strings.TrimSpace(value), err
}

func confirm(label string) bool {
	p := promptui.Prompt{Label: label, IsConfirm: true}
	_, err := p.Run()
	return err == nil
}
