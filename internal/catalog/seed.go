// SPDX-License-Identifier: MIT

package catalog

import (
	"context"

	"github.com/streamwarden/streamwarden/internal/model"
)

// Write surface used by external configuration management and by tests.
// Deliberately not part of the Catalog interface: the core never calls these.

func (c *SqliteCatalog) UpsertChannel(ctx context.Context, ch model.Channel) error {
	_, err := c.DB.ExecContext(ctx, `
		INSERT INTO channels (id, name, source_url) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, source_url = excluded.source_url`,
		ch.ID, ch.Name, ch.SourceURL)
	return err
}

func (c *SqliteCatalog) UpsertSource(ctx context.Context, s model.StreamSource) error {
	health := s.Health
	if health == "" {
		health = model.HealthActive
	}
	_, err := c.DB.ExecContext(ctx, `
		INSERT INTO stream_sources (id, channel_id, url, priority, enabled, health)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			channel_id = excluded.channel_id, url = excluded.url,
			priority = excluded.priority, enabled = excluded.enabled`,
		s.ID, s.ChannelID, s.URL, s.Priority, boolToInt(s.Enabled), string(health))
	return err
}

func (c *SqliteCatalog) UpsertProfile(ctx context.Context, p model.SubscriptionProfile) error {
	_, err := c.DB.ExecContext(ctx, `
		INSERT INTO subscription_profiles (id, account_id, max_concurrent, active)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			account_id = excluded.account_id,
			max_concurrent = excluded.max_concurrent,
			active = excluded.active`,
		p.ID, p.AccountID, p.MaxConcurrent, boolToInt(p.Active))
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
