package postgres

import (
	"time"

	"marketstream/internal/symbols"
)

// SymbolRecord is one catalog entry.
type SymbolRecord struct {
	ID uint `gorm:"primaryKey"`

	Code  string   `gorm:"type:varchar(32);not null;uniqueIndex:idx_symbol_code"`
	Name  string   `gorm:"type:text;not null;index:idx_symbol_name"`
	Logos []string `gorm:"type:jsonb;serializer:json"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// TableName overrides the default table name for GORM.
func (SymbolRecord) TableName() string {
	return "symbol_record"
}

func toSymbolRecord(s symbols.Symbol) SymbolRecord {
	return SymbolRecord{Code: s.Code, Name: s.Name, Logos: s.Logos}
}

func (r SymbolRecord) toSymbol() symbols.Symbol {
	return symbols.Symbol{Code: r.Code, Name: r.Name, Logos: r.Logos}
}
