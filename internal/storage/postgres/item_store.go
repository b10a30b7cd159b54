package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

// ItemStore persists extracted inventory items. Items are keyed by
// (customer_id, source_id, source_item_id) so re-runs update in place.
type ItemStore struct {
	pool  dbPool
	table string
}

// NewItemStore constructs a store over an existing pool.
func NewItemStore(pool dbPool, table string) (*ItemStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "items"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ItemStore{pool: pool, table: table}, nil
}

// UpsertItems writes the batch, updating rows that already exist for the
// same source item.
func (s *ItemStore) UpsertItems(ctx context.Context, items []ingest.Item) error {
	if len(items) == 0 {
		return nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	customer_id,
	source_id,
	run_id,
	source_item_id,
	url,
	title,
	description,
	price_amount,
	price_currency,
	primary_image_url,
	image_urls,
	attributes,
	fetched_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
)
ON CONFLICT (customer_id, source_id, source_item_id) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	description = EXCLUDED.description,
	price_amount = EXCLUDED.price_amount,
	price_currency = EXCLUDED.price_currency,
	primary_image_url = EXCLUDED.primary_image_url,
	image_urls = EXCLUDED.image_urls,
	attributes = EXCLUDED.attributes,
	fetched_at = EXCLUDED.fetched_at`, s.table)

	for _, item := range items {
		if item.SourceItemID == "" {
			return fmt.Errorf("source item id is required")
		}
		imagesJSON, err := json.Marshal(item.ImageURLs)
		if err != nil {
			return fmt.Errorf("marshal image urls: %w", err)
		}
		attrsJSON, err := json.Marshal(item.Attributes)
		if err != nil {
			return fmt.Errorf("marshal attributes: %w", err)
		}
		args := []any{
			item.CustomerID,
			item.SourceID,
			item.RunID,
			item.SourceItemID,
			item.URL,
			item.Title,
			item.Description,
			item.PriceAmount,
			item.PriceCurrency,
			item.PrimaryImageURL,
			imagesJSON,
			attrsJSON,
			item.FetchedAt,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert item %s: %w", item.SourceItemID, err)
		}
	}
	return nil
}

// ListItems returns the items written by one run, ordered by source item id.
func (s *ItemStore) ListItems(ctx context.Context, customerID, runID string) ([]ingest.Item, error) {
	query := fmt.Sprintf(`
SELECT customer_id, source_id, run_id, source_item_id, url,
	title, description, price_amount, price_currency,
	primary_image_url, image_urls, attributes, fetched_at
FROM %s
WHERE customer_id = $1
  AND run_id = $2
ORDER BY source_item_id`, s.table)

	rows, err := s.pool.Query(ctx, query, customerID, runID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer rows.Close()

	var items []ingest.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

func scanItem(row pgx.Row) (ingest.Item, error) {
	var (
		item       ingest.Item
		imagesJSON []byte
		attrsJSON  []byte
	)
	err := row.Scan(
		&item.CustomerID,
		&item.SourceID,
		&item.RunID,
		&item.SourceItemID,
		&item.URL,
		&item.Title,
		&item.Description,
		&item.PriceAmount,
		&item.PriceCurrency,
		&item.PrimaryImageURL,
		&imagesJSON,
		&attrsJSON,
		&item.FetchedAt,
	)
	if err != nil {
		return ingest.Item{}, err
	}
	if len(imagesJSON) > 0 {
		if err := json.Unmarshal(imagesJSON, &item.ImageURLs); err != nil {
			return ingest.Item{}, fmt.Errorf("unmarshal image urls: %w", err)
		}
	}
	if len(attrsJSON) > 0 {
		if err := json.Unmarshal(attrsJSON, &item.Attributes); err != nil {
			return ingest.Item{}, fmt.Errorf("unmarshal attributes: %w", err)
		}
	}
	return item, nil
}
