package outreach

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/orchestrator"

	"github.com/mitchellh/mapstructure"
)

const defaultInterviewMinutes = 45

// ErrCandidateReplied stops a follow-up when the candidate answered after our last message.
var ErrCandidateReplied = errors.New("candidate replied since the last message")

type taskInput struct {
	CandidateID string `mapstructure:"candidate_id"`
	Subject     string `mapstructure:"subject"`
	StartsAt    string `mapstructure:"starts_at"`
	Duration    int    `mapstructure:"duration_minutes"`
	Interviewer string `mapstructure:"interviewer"`
}

func decodeInput(task *model.Task) (taskInput, error) {
	var in taskInput
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &in, WeaklyTypedInput: true})
	if err != nil {
		return in, err
	}
	if err := decoder.Decode(task.Payload.Input); err != nil {
		return in, fmt.Errorf("%w: task input: %v", model.ErrValidation, err)
	}
	if strings.TrimSpace(in.CandidateID) == "" {
		return in, fmt.Errorf("%w: task input has no candidate_id", model.ErrValidation)
	}
	return in, nil
}

// Executors returns the executor for every effectful task type.
func (c *Client) Executors() map[model.TaskType]orchestrator.Executor {
	return map[model.TaskType]orchestrator.Executor{
		model.TaskSendOutreach:        c.messageExecutor("outreach", false),
		model.TaskSendFollowUp:        c.messageExecutor("follow_up", true),
		model.TaskSendOffer:           c.messageExecutor("offer", false),
		model.TaskDiscussCompensation: c.messageExecutor("compensation", false),
		model.TaskRejectCandidate:     c.messageExecutor("rejection", false),
		model.TaskScheduleInterview:   orchestrator.ExecutorFunc(c.scheduleInterview),
	}
}

func (c *Client) messageExecutor(kind string, skipIfReplied bool) orchestrator.Executor {
	return orchestrator.ExecutorFunc(func(ctx context.Context, task *model.Task) (map[string]any, error) {
		in, err := decodeInput(task)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(task.Payload.Content) == "" {
			return nil, fmt.Errorf("%w: task has no content to send", model.ErrValidation)
		}

		if skipIfReplied {
			messages, err := c.Conversation(ctx, in.CandidateID)
			if err != nil {
				return nil, err
			}
			if len(messages) > 0 && messages[len(messages)-1].Inbound() {
				return nil, ErrCandidateReplied
			}
		}

		d, err := c.Send(ctx, in.CandidateID, OutgoingMessage{Subject: in.Subject, Body: task.Payload.Content, Kind: kind})
		if err != nil {
			return nil, err
		}
		return map[string]any{"message_id": d.ID, "delivery_status": d.Status}, nil
	})
}

func (c *Client) scheduleInterview(ctx context.Context, task *model.Task) (map[string]any, error) {
	in, err := decodeInput(task)
	if err != nil {
		return nil, err
	}
	starts, err := time.Parse(time.RFC3339, in.StartsAt)
	if err != nil {
		return nil, fmt.Errorf("%w: starts_at: %v", model.ErrValidation, err)
	}
	duration := in.Duration
	if duration <= 0 {
		duration = defaultInterviewMinutes
	}

	b, err := c.Schedule(ctx, Interview{
		CandidateID: in.CandidateID,
		StartsAt:    starts,
		Duration:    duration,
		Interviewer: in.Interviewer,
		Notes:       task.Payload.Content,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"booking_id": b.ID, "calendar_url": b.CalendarURL}, nil
}
