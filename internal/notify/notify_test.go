package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/spigell/recruiter-loop/internal/model"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type failingSink struct{}

func (failingSink) Send(context.Context, Notification) error { return errors.New("smtp down") }

func TestDispatcherFansOutAndLogsFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	dashboard := NewDashboardSink(10)
	d := NewDispatcher(map[model.Channel]Sink{
		model.ChannelDashboard: dashboard,
		model.ChannelEmail:     failingSink{},
	}, zap.New(core))

	d.Notify(Notification{TenantID: "acme", TaskID: "t1", Event: EventEscalated}, []model.Channel{model.ChannelDashboard, model.ChannelEmail, model.ChannelChat})
	d.Wait()

	feed := dashboard.Feed("acme")
	if len(feed) != 1 || feed[0].TaskID != "t1" || feed[0].CreatedAt.IsZero() {
		t.Fatalf("unexpected dashboard feed %+v", feed)
	}
	if logs.FilterMessage("notification not delivered").Len() != 1 {
		t.Fatalf("expected email failure to be logged")
	}
	if logs.FilterMessage("no sink for channel").Len() != 1 {
		t.Fatalf("expected missing chat sink to be logged")
	}
}

func TestDashboardSinkIsBoundedAndNewestFirst(t *testing.T) {
	s := NewDashboardSink(2)
	for _, id := range []string{"t1", "t2", "t3"} {
		_ = s.Send(context.Background(), Notification{TenantID: "acme", TaskID: id})
	}

	feed := s.Feed("acme")
	if len(feed) != 2 || feed[0].TaskID != "t3" || feed[1].TaskID != "t2" {
		t.Fatalf("unexpected feed %+v", feed)
	}
	if len(s.Feed("globex")) != 0 {
		t.Fatalf("feeds are per tenant")
	}
}

type stubPoster struct {
	channel string
	calls   int
}

func (p *stubPoster) PostMessageContext(_ context.Context, channelID string, _ ...slack.MsgOption) (string, string, error) {
	p.channel = channelID
	p.calls++
	return channelID, "1", nil
}

func TestSlackSinkRoutesByTenant(t *testing.T) {
	poster := &stubPoster{}
	s := &SlackSink{client: poster, channels: map[string]string{"acme": "C-ACME"}, fallback: "C-OPS"}

	if err := s.Send(context.Background(), Notification{TenantID: "acme"}); err != nil || poster.channel != "C-ACME" {
		t.Fatalf("expected tenant channel, got %q (%v)", poster.channel, err)
	}
	if err := s.Send(context.Background(), Notification{TenantID: "globex"}); err != nil || poster.channel != "C-OPS" {
		t.Fatalf("expected fallback channel, got %q (%v)", poster.channel, err)
	}

	s.fallback = ""
	if err := s.Send(context.Background(), Notification{TenantID: "globex"}); err == nil {
		t.Fatalf("expected error without channel")
	}
	if poster.calls != 2 {
		t.Fatalf("expected 2 posts, got %d", poster.calls)
	}
}

func TestNotificationText(t *testing.T) {
	n := Notification{TenantID: "acme", TaskID: "t1", TaskType: model.TaskSendOffer, Event: EventEscalated, Priority: model.PriorityHigh, Reason: model.ReasonSensitiveTaskType, Message: "review offer"}
	want := "[acme] task t1 (send_offer) escalated priority=high reason=sensitive_task_type: review offer"
	if got := n.Text(); got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
