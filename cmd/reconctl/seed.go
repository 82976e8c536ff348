package main

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"github.com/punchamoorthee/payrecon/internal/app"
	"github.com/punchamoorthee/payrecon/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

//go:embed seed.yaml
var defaultSeed []byte

type seedFile struct {
	FoodItems []struct {
		ID       string `yaml:"id"`
		Name     string `yaml:"name"`
		Price    string `yaml:"price"`
		Quantity *int   `yaml:"quantity"`
	} `yaml:"food_items"`
	Staff []domain.Staff `yaml:"staff"`
}

func seedCmd() *cobra.Command {
	var (
		file      string
		synthetic int
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load menu items and staff into the database",
		Long: `Seed loads food items and staff members. Existing food items are left
untouched; staff are upserted. --synthetic adds generated menu items with
tracked stock, for load testing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data := defaultSeed
			if file != "" {
				var err error
				if data, err = os.ReadFile(file); err != nil {
					return err
				}
			}
			items, staff, err := parseSeed(data)
			if err != nil {
				return err
			}
			for i := 0; i < synthetic; i++ {
				qty := 100
				items = append(items, domain.FoodItem{
					ID:          fmt.Sprintf("bench-item-%04d", i),
					Name:        fmt.Sprintf("Bench item %d", i),
					Price:       decimal.NewFromInt(1500),
					Quantity:    &qty,
					IsAvailable: true,
				})
			}

			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				n, err := a.Store.SeedFoodItems(ctx, items)
				if err != nil {
					return fmt.Errorf("seed food items: %w", err)
				}
				if err := a.Store.UpsertStaff(ctx, staff); err != nil {
					return fmt.Errorf("seed staff: %w", err)
				}
				fmt.Printf("seeded %d new food items (%d offered), %d staff\n", n, len(items), len(staff))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "YAML seed file (defaults to the built-in fixture)")
	cmd.Flags().IntVar(&synthetic, "synthetic", 0, "Number of generated food items to add")
	return cmd
}

func parseSeed(data []byte) ([]domain.FoodItem, []domain.Staff, error) {
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, nil, fmt.Errorf("parse seed: %w", err)
	}
	items := make([]domain.FoodItem, 0, len(sf.FoodItems))
	for _, it := range sf.FoodItems {
		price, err := decimal.NewFromString(it.Price)
		if err != nil {
			return nil, nil, fmt.Errorf("food item %s: price %q: %w", it.ID, it.Price, err)
		}
		items = append(items, domain.FoodItem{
			ID:          it.ID,
			Name:        it.Name,
			Price:       price,
			Quantity:    it.Quantity,
			IsAvailable: it.Quantity == nil || *it.Quantity > 0,
			OutOfStock:  it.Quantity != nil && *it.Quantity == 0,
		})
	}
	return items, sf.Staff, nil
}
