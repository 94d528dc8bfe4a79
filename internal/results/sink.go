// Package results delivers classification results: formatted lines on an
// output stream, JSON events on Kafka and rows in PostgreSQL.
package results

import (
	"context"
	"errors"

	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/internal/classifier"
	"github.com/Adithya-Monish-Kumar-K/Amplicon-Classifier/pkg/metrics"
)

// Sink is a classifier.Sink that must be closed to flush buffered results.
type Sink interface {
	classifier.Sink
	Close(ctx context.Context) error
}

// Multi fans every result out to its sinks in order. The first failing
// sink stops delivery of that result.
type Multi struct {
	sinks   []Sink
	names   []string
	metrics *metrics.Metrics
}

// NewMulti returns an empty fan-out sink. m may be nil.
func NewMulti(m *metrics.Metrics) *Multi {
	return &Multi{metrics: m}
}

// Add registers sink under name, which labels delivery metrics.
func (m *Multi) Add(name string, sink Sink) {
	m.sinks = append(m.sinks, sink)
	m.names = append(m.names, name)
}

// Len returns the number of registered sinks.
func (m *Multi) Len() int {
	return len(m.sinks)
}

func (m *Multi) Write(ctx context.Context, r classifier.Result) error {
	for i, s := range m.sinks {
		err := s.Write(ctx, r)
		m.count(m.names[i], err)
		if err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and joins their errors.
func (m *Multi) Close(ctx context.Context) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) count(name string, err error) {
	if m.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.metrics.ResultsDelivered.WithLabelValues(name, status).Inc()
}
