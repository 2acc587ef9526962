package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"

	"github.com/spigell/recruiter-loop/internal/intake"
	"github.com/spigell/recruiter-loop/internal/logger"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/orchestrator"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	PromptYes            = "Yes"
	PromptNo             = "No"
	PromptReportByTenant = "Report by tenants"
	PromptReviewHeld     = "Review held tasks"
	PromptResultsToFile  = "Dump results to file"
	PromptExit           = "Exit"
)

var prompt = promptui.Select{
	Label: "Procced?",
	Items: []string{PromptYes, PromptNo, PromptReportByTenant},
}

var afterPrompt = promptui.Select{
	Label: "What next?",
	Items: []string{PromptReviewHeld, PromptResultsToFile, PromptExit},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Process a file of task requests through the loop once",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("file", "f", "", "yaml or json file with task requests")
	runCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation before processing")
	runCmd.Flags().StringP("operator", "o", "", "operator name used when reviewing held tasks")

	runCmd.MarkFlagRequired("file")
}

// run is the one-shot batch command for the cli.
func run(cmd *cobra.Command) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the recruiter-loop batch", zap.String("version", version))

	file, _ := cmd.Flags().GetString("file")
	requests, err := readRequests(file)
	if err != nil {
		logger.Fatal("reading requests", zap.Error(err), zap.String("file", file))
	}
	if len(requests) == 0 {
		logger.Info("exiting", zap.String("reason", "no requests found"))
		return
	}

	s, err := buildStack(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the stack", zap.Error(err))
	}
	defer s.Close()

	if err := s.startWorkers(ctx); err != nil {
		logger.Fatal("starting workers", zap.Error(err))
	}

	kept, dropped, err := s.intake.Run(ctx, requests)
	if err != nil {
		logger.Fatal("intake failed", zap.Error(err))
	}
	for _, d := range dropped {
		logger.Info("request dropped",
			zap.String("filter", d.Filter),
			zap.String("reason", d.Reason),
			zap.String("tenant_id", d.Request.TenantID),
			zap.String("candidate_id", d.CandidateID),
		)
	}
	if len(kept) == 0 {
		logger.Info("exiting", zap.String("reason", "no requests left after intake"))
		return
	}

	autoApprove, _ := cmd.Flags().GetBool("yes")
	for !autoApprove {
		_, action, err := prompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
		if action == PromptYes {
			break
		}
		if action == PromptNo {
			logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return
		}
		pretty, _ := json.MarshalIndent(reportByTenant(kept), "", "  ")
		logger.Info(string(pretty), zap.Int("requests count", len(kept)))
	}

	outcomes := s.orchestrator.ProcessBatch(ctx, kept)
	held := logOutcomes(outcomes, logger)

	if autoApprove {
		return
	}

	operator, _ := cmd.Flags().GetString("operator")
	for {
		_, action, err := afterPrompt.Run()
		if err != nil {
			logger.Fatal("exiting", zap.Error(err))
		}
		if err := handleAction(ctx, action, s, operator, held, outcomes, dropped, logger); err != nil {
			if errors.Is(err, errExit) {
				return
			}
			logger.Fatal("exiting", zap.Error(err))
		}
	}
}

func handleAction(ctx context.Context, action string, s *stack, operator string, held int, outcomes []orchestrator.BatchOutcome, dropped []intake.Dropped, logger *zap.Logger) error {
	switch action {
	case PromptReviewHeld:
		if held == 0 {
			logger.Info("nothing to review")
			return nil
		}
		if operator == "" {
			return errors.New("operator is required to review tasks, pass --operator")
		}
		err := reviewLoop(ctx, localBackend{queue: s.queue}, "", operator, logger)
		if errors.Is(err, errExit) {
			return nil
		}
		return err
	case PromptResultsToFile:
		filename, err := dumpToTmpFile(map[string]any{"outcomes": outcomes, "dropped": dropped})
		if err != nil {
			return fmt.Errorf("dump results to file: %w", err)
		}
		logger.Info("dumping result to file", zap.String("filename", filename))
		return nil
	case PromptExit:
		logger.Info("exiting", zap.String("reason", "got exit from prompt"))
		return errExit
	default:
		return fmt.Errorf("invalid action: %s", action)
	}
}

// readRequests accepts either a list of requests or a document with a requests key.
func readRequests(path string) ([]orchestrator.Request, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var tree any
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc, ok := tree.(map[string]any); ok {
		list, found := doc["requests"]
		if !found {
			return nil, fmt.Errorf("%w: %s has no requests key", model.ErrValidation, path)
		}
		tree = list
	}

	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("convert %s to json: %w", path, err)
	}
	var requests []orchestrator.Request
	if err := json.Unmarshal(raw, &requests); err != nil {
		return nil, fmt.Errorf("%w: decode requests: %w", model.ErrValidation, err)
	}
	return requests, nil
}

func reportByTenant(reqs []orchestrator.Request) map[string]map[model.TaskType]int {
	report := make(map[string]map[model.TaskType]int)
	for _, r := range reqs {
		if report[r.TenantID] == nil {
			report[r.TenantID] = make(map[model.TaskType]int)
		}
		report[r.TenantID][r.Type]++
	}
	return report
}

// logOutcomes reports every batch result and returns how many tasks wait for a human.
func logOutcomes(outcomes []orchestrator.BatchOutcome, log *zap.Logger) int {
	held := 0
	for i, o := range outcomes {
		if o.Err != nil {
			log.Warn("request failed", zap.Int("index", i), zap.String(logger.FieldTenant, o.Request.TenantID), zap.Error(o.Err))
			continue
		}
		if o.Outcome.Route == orchestrator.RouteHeld {
			held++
		}
		log.Info("request processed",
			zap.Int("index", i),
			zap.String(logger.FieldTask, o.Outcome.Task.ID),
			zap.String("type", string(o.Outcome.Task.Type)),
			zap.String("route", string(o.Outcome.Route)),
			zap.Float64("confidence", o.Outcome.Task.Confidence),
			zap.String("reason", string(o.Outcome.Task.EscalationReason)),
		)
	}
	log.Info("batch finished", zap.Int("total", len(outcomes)), zap.Int("held", held))
	return held
}

func dumpToTmpFile(v any) (string, error) {
	f, err := os.CreateTemp("", app+"-results-*.json")
	if err != nil {
		return "", err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return f.Name(), nil
}
