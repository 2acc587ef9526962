package outreach

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"
)

const (
	candidatesPath = "/candidates"
	interviewsPath = "/interviews"
)

// Message is one entry of a candidate conversation.
type Message struct {
	ID        string
	Direction string
	Body      string
	SentAt    string `json:"sent_at" mapstructure:"sent_at"`
}

// Inbound reports whether the candidate wrote the message.
func (m *Message) Inbound() bool {
	return m.Direction == "inbound"
}

// OutgoingMessage is a message to a candidate.
type OutgoingMessage struct {
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body"`
	Kind    string `json:"kind"`
}

// Delivery is the API confirmation of a sent message.
type Delivery struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Interview is a booking request.
type Interview struct {
	CandidateID string    `json:"candidate_id"`
	StartsAt    time.Time `json:"starts_at"`
	Duration    int       `json:"duration_minutes"`
	Interviewer string    `json:"interviewer,omitempty"`
	Notes       string    `json:"notes,omitempty"`
}

// Booking is the API confirmation of a scheduled interview.
type Booking struct {
	ID          string `json:"id"`
	CalendarURL string `json:"calendar_url"`
}

// Conversation returns every message exchanged with a candidate.
func (c *Client) Conversation(ctx context.Context, candidateID string) ([]*Message, error) {
	q := url.Values{}
	q.Add("per_page", perPage)

	items, err := c.getItems(ctx, fmt.Sprintf("%s%s/%s/messages", c.APIURL, candidatesPath, url.PathEscape(candidateID)), q)
	if err != nil {
		return nil, err
	}

	var messages []*Message
	if err := mapstructure.Decode(items, &messages); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	return messages, nil
}

// Send delivers a message to a candidate.
func (c *Client) Send(ctx context.Context, candidateID string, msg OutgoingMessage) (*Delivery, error) {
	var d Delivery
	endpoint := fmt.Sprintf("%s%s/%s/messages", c.APIURL, candidatesPath, url.PathEscape(candidateID))
	if err := c.postJSON(ctx, endpoint, msg, &d); err != nil {
		return nil, fmt.Errorf("send message to %s: %w", candidateID, err)
	}
	c.logger.Debug("message delivered", zap.String("candidate_id", candidateID), zap.String("message_id", d.ID))
	return &d, nil
}

// Schedule books an interview slot.
func (c *Client) Schedule(ctx context.Context, in Interview) (*Booking, error) {
	var b Booking
	if err := c.postJSON(ctx, c.APIURL+interviewsPath, in, &b); err != nil {
		return nil, fmt.Errorf("schedule interview for %s: %w", in.CandidateID, err)
	}
	return &b, nil
}
