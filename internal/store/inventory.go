package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/punchamoorthee/payrecon/internal/domain"
)

// DeductStock removes qty units of itemID, flooring at zero. At zero the item
// is flagged unavailable and out of stock. Items with NULL quantity are not
// tracked and are left alone.
func (s *Store) DeductStock(ctx context.Context, itemID string, qty int) (domain.StockChange, error) {
	var change domain.StockChange
	err := pgx.BeginFunc(ctx, s.Db, func(tx pgx.Tx) error {
		var before *int
		err := tx.QueryRow(ctx, "SELECT quantity FROM food_items WHERE id = $1 FOR UPDATE", itemID).Scan(&before)
		if err != nil {
			return mapErr(err)
		}
		if before == nil {
			return nil
		}

		after := *before - qty
		if after < 0 {
			after = 0
		}
		_, err = tx.Exec(ctx,
			`UPDATE food_items
			    SET quantity     = $2,
			        is_available = CASE WHEN $2 = 0 THEN FALSE ELSE is_available END,
			        out_of_stock = ($2 = 0),
			        updated_at   = now()
			  WHERE id = $1`,
			itemID, after,
		)
		if err != nil {
			return err
		}
		change = domain.StockChange{Tracked: true, Before: *before, After: after}
		return nil
	})
	if err != nil {
		return domain.StockChange{}, fmt.Errorf("deduct stock %s: %w", itemID, err)
	}
	return change, nil
}

func (s *Store) GetFoodItem(ctx context.Context, id string) (*domain.FoodItem, error) {
	var (
		item  domain.FoodItem
		price string
	)
	err := s.Db.QueryRow(ctx,
		"SELECT id, name, price::text, quantity, is_available, out_of_stock FROM food_items WHERE id = $1", id,
	).Scan(&item.ID, &item.Name, &price, &item.Quantity, &item.IsAvailable, &item.OutOfStock)
	if err != nil {
		return nil, mapErr(err)
	}
	if err := item.Price.Scan(price); err != nil {
		return nil, err
	}
	return &item, nil
}

// SeedFoodItems bulk-loads menu items with COPY. Existing ids are not touched.
func (s *Store) SeedFoodItems(ctx context.Context, items []domain.FoodItem) (int64, error) {
	tx, err := s.Db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `CREATE TEMP TABLE food_items_seed (LIKE food_items INCLUDING DEFAULTS) ON COMMIT DROP`)
	if err != nil {
		return 0, fmt.Errorf("create seed table: %w", err)
	}

	rows := make([][]any, len(items))
	for i, it := range items {
		price := pgtype.Numeric{Int: it.Price.Coefficient(), Exp: it.Price.Exponent(), Valid: true}
		rows[i] = []any{it.ID, it.Name, price, it.Quantity, it.IsAvailable, it.OutOfStock}
	}
	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"food_items_seed"},
		[]string{"id", "name", "price", "quantity", "is_available", "out_of_stock"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("copy food items: %w", err)
	}

	tag, err := tx.Exec(ctx, `INSERT INTO food_items SELECT * FROM food_items_seed ON CONFLICT (id) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("merge food items: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
