// Package notify delivers terminal session summaries to interested sinks.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"infra-wizard/internal/common/logger"
	"infra-wizard/internal/models"
)

// Sink receives a finished session summary. Delivery failures are logged by
// the caller and never fail the session itself.
type Sink interface {
	Notify(ctx context.Context, summary *models.SessionSummary) error
}

// ==========================
// 1. Console Sink
// ==========================

// ConsoleSink prints a human-readable summary block.
type ConsoleSink struct {
	w io.Writer
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func (c *ConsoleSink) Notify(_ context.Context, summary *models.SessionSummary) error {
	fmt.Fprintf(c.w, "session %s finished: %s\n", summary.SessionID, summary.Status)
	fmt.Fprintf(c.w, "  provider:  %s (%s)\n", summary.Provider, summary.Region)
	fmt.Fprintf(c.w, "  resources: %d\n", summary.TotalResources())
	for _, kind := range models.AllKinds() {
		if n := summary.Counts[kind]; n > 0 {
			fmt.Fprintf(c.w, "    %-14s %d\n", string(kind), n)
		}
	}
	for _, w := range summary.Warnings {
		fmt.Fprintf(c.w, "  warning: [%s] %s\n", w.Code, w.Message)
	}
	for _, a := range summary.Artifacts {
		fmt.Fprintf(c.w, "  wrote %s (%d bytes)\n", a.Path, a.Bytes)
	}
	return nil
}

// ==========================
// 2. SNS Sink
// ==========================

// SNSPublisher is the slice of the SNS API the sink needs.
type SNSPublisher interface {
	Publish(ctx context.Context, input *sns.PublishInput) (*sns.PublishOutput, error)
}

// SNSSink publishes the summary as JSON to a topic.
type SNSSink struct {
	client   SNSPublisher
	topicARN string
	log      logger.Logger
}

func NewSNSSink(client SNSPublisher, topicARN string, log logger.Logger) *SNSSink {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &SNSSink{client: client, topicARN: topicARN, log: log}
}

func (s *SNSSink) Notify(ctx context.Context, summary *models.SessionSummary) error {
	body, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(fmt.Sprintf("infra-wizard session %s: %s", summary.SessionID, summary.Status)),
		Message:  aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("publishing summary: %w", err)
	}
	s.log.Debug("summary published", map[string]interface{}{
		"sessionId": summary.SessionID,
		"topic":     s.topicARN,
	})
	return nil
}

// ==========================
// 3. Fan-out
// ==========================

// Multi delivers to every sink and returns the first error encountered
// after trying all of them.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, summary *models.SessionSummary) error {
	var first error
	for _, sink := range m {
		if err := sink.Notify(ctx, summary); err != nil && first == nil {
			first = err
		}
	}
	return first
}
