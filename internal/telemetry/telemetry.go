// Package telemetry delivers occupancy metrics to external brokers.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/multierr"

	"peoplecounter/internal/occupancy"
)

// Fanout publishes every message to all of its publishers
type Fanout []occupancy.Publisher

// Publish delivers to each publisher and combines their errors
func (f Fanout) Publish(ctx context.Context, topic string, payload any) error {
	var err error
	for _, p := range f {
		if perr := p.Publish(ctx, topic, payload); perr != nil {
			err = multierr.Append(err, perr)
		}
	}
	return err
}

// Close closes every publisher that can be closed
func (f Fanout) Close() error {
	var err error
	for _, p := range f {
		if c, ok := p.(interface{ Close() error }); ok {
			err = multierr.Append(err, c.Close())
		}
	}
	return err
}

func encode(topic string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", topic, err)
	}
	return data, nil
}
