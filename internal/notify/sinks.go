package notify

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// DashboardSink keeps a bounded feed per tenant for the operator dashboard.
type DashboardSink struct {
	mu    sync.Mutex
	limit int
	feeds map[string][]Notification
}

// NewDashboardSink keeps at most limit notifications per tenant.
func NewDashboardSink(limit int) *DashboardSink {
	if limit <= 0 {
		limit = 200
	}
	return &DashboardSink{limit: limit, feeds: make(map[string][]Notification)}
}

func (s *DashboardSink) Send(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed := append(s.feeds[n.TenantID], n)
	if len(feed) > s.limit {
		feed = feed[len(feed)-s.limit:]
	}
	s.feeds[n.TenantID] = feed
	return nil
}

// Feed returns the tenant's notifications, newest first.
func (s *DashboardSink) Feed(tenantID string) []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()

	feed := slices.Clone(s.feeds[tenantID])
	slices.Reverse(feed)
	return feed
}

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackSink posts notifications to a Slack channel per tenant.
type SlackSink struct {
	client   slackPoster
	channels map[string]string
	fallback string
}

// NewSlackSink builds a sink from a bot token. channels maps tenant id to Slack channel id.
func NewSlackSink(token string, channels map[string]string, fallback string) *SlackSink {
	return &SlackSink{client: slack.New(token), channels: channels, fallback: fallback}
}

func (s *SlackSink) Send(ctx context.Context, n Notification) error {
	channel := s.channels[n.TenantID]
	if channel == "" {
		channel = s.fallback
	}
	if channel == "" {
		return fmt.Errorf("no slack channel configured for tenant %s", n.TenantID)
	}
	_, _, err := s.client.PostMessageContext(ctx, channel, slack.MsgOptionText(n.Text(), false))
	if err != nil {
		return fmt.Errorf("post slack message: %w", err)
	}
	return nil
}

// LogSink writes notifications to the log, used for channels without an integration.
type LogSink struct {
	Logger *zap.Logger
}

func (s LogSink) Send(_ context.Context, n Notification) error {
	s.Logger.Info("notification",
		zap.String("tenant_id", n.TenantID),
		zap.String("task_id", n.TaskID),
		zap.String("event", string(n.Event)),
		zap.String("text", n.Text()),
	)
	return nil
}
