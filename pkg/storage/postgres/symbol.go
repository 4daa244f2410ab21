package postgres

import (
	"context"
	"fmt"

	"marketstream/internal/symbols"

	"gorm.io/gorm/clause"
)

const batchSize = 500

// SymbolRepository stores the catalog in the symbol_record table.
type SymbolRepository struct {
	client *PostgresClient
}

func NewSymbolRepository(client *PostgresClient) *SymbolRepository {
	return &SymbolRepository{client: client}
}

func (r *SymbolRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.client.DB.WithContext(ctx).Model(&SymbolRecord{}).Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}

func (r *SymbolRepository) Insert(ctx context.Context, syms []symbols.Symbol) error {
	if len(syms) == 0 {
		return nil
	}
	tx := r.client.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoNothing: true,
	}).CreateInBatches(records(syms), batchSize)

	return tx.Error
}

func (r *SymbolRepository) Upsert(ctx context.Context, syms []symbols.Symbol) error {
	if len(syms) == 0 {
		return nil
	}
	tx := r.client.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "logos", "updated_at"}),
	}).CreateInBatches(records(syms), batchSize)

	return tx.Error
}

func (r *SymbolRepository) List(ctx context.Context, req symbols.PageRequest) ([]symbols.Symbol, int64, error) {
	total, err := r.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count: %w", err)
	}

	var rows []SymbolRecord
	err = r.client.DB.WithContext(ctx).
		Order(orderBy(req)).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "code"}}).
		Offset(req.Offset()).
		Limit(req.Size).
		Find(&rows).Error
	if err != nil {
		return nil, 0, err
	}

	out := make([]symbols.Symbol, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toSymbol())
	}
	return out, total, nil
}

// orderBy only ever emits a whitelisted column.
func orderBy(req symbols.PageRequest) clause.OrderByColumn {
	col := "name"
	if req.SortBy == symbols.SortByCode {
		col = "code"
	}
	return clause.OrderByColumn{
		Column: clause.Column{Name: col},
		Desc:   req.SortDirection == symbols.SortDesc,
	}
}

func records(syms []symbols.Symbol) []SymbolRecord {
	out := make([]SymbolRecord, 0, len(syms))
	for _, s := range syms {
		out = append(out, toSymbolRecord(s))
	}
	return out
}
