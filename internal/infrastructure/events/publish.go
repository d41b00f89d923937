package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
)

// PublishJSON encodes v and publishes it on subject.
func PublishJSON(ctx context.Context, bus domain.EventBus, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return bus.Publish(ctx, subject, data)
}
