package results

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/kafka"
)

// Publisher sends event batches. *kafka.Producer implements it.
type Publisher interface {
	PublishBatch(ctx context.Context, events []kafka.Event) error
	Close() error
}

// ResultEvent is the JSON payload published for every result.
type ResultEvent struct {
	RunID string `json:"run_id"`
	classifier.Result
}

// KafkaSink accumulates results and publishes them in batches keyed by
// query id. A failed publish fails the run.
type KafkaSink struct {
	publisher Publisher
	runID     string
	batchSize int
	mu        sync.Mutex
	buffer    []kafka.Event
	published int
	logger    *slog.Logger
}

// NewKafkaSink creates a sink that publishes every batchSize results.
func NewKafkaSink(p Publisher, runID string, batchSize int) *KafkaSink {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &KafkaSink{
		publisher: p,
		runID:     runID,
		batchSize: batchSize,
		buffer:    make([]kafka.Event, 0, batchSize),
		logger:    slog.Default().With("component", "kafka-sink", "run_id", runID),
	}
}

func (s *KafkaSink) Write(ctx context.Context, r classifier.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, kafka.Event{
		Key:   r.QueryID,
		Value: ResultEvent{RunID: s.runID, Result: r},
	})
	if len(s.buffer) < s.batchSize {
		return nil
	}
	return s.flushLocked(ctx)
}

// Close publishes the remaining results and closes the publisher.
func (s *KafkaSink) Close(ctx context.Context) error {
	s.mu.Lock()
	err := s.flushLocked(ctx)
	published := s.published
	s.mu.Unlock()
	if cerr := s.publisher.Close(); err == nil {
		err = cerr
	}
	s.logger.Info("results published", "count", published)
	return err
}

func (s *KafkaSink) flushLocked(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}
	if err := s.publisher.PublishBatch(ctx, s.buffer); err != nil {
		return err
	}
	s.published += len(s.buffer)
	s.buffer = make([]kafka.Event, 0, s.batchSize)
	return nil
}
