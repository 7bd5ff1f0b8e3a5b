package models

// Category names. They double as CSV column headers, so renaming one breaks
// previously persisted tables.
const (
	CategoryExchange      = "Exchange"
	CategoryIndustry      = "Industry"
	CategoryWeight        = "Index Weight"
	CategoryPrice         = "Stock Price"
	CategoryDayChange     = "1D % Growth"
	CategoryDividendYield = "Dividend Yield"
	CategoryMarketCap     = "Market Cap"
	CategoryYearChange    = "52 Week Change"
)

// Category is a named column of the table with a declared value kind.
type Category struct {
	Name  string
	Short string // Axis label
	Kind  Kind
}

// DefaultCategories returns the tracked column set in display order.
func DefaultCategories() []Category {
	return []Category{
		{Name: CategoryExchange, Short: "Exch", Kind: KindText},
		{Name: CategoryIndustry, Short: "Ind", Kind: KindText},
		{Name: CategoryWeight, Short: "Weight", Kind: KindNumber},
		{Name: CategoryPrice, Short: "Price", Kind: KindNumber},
		{Name: CategoryDayChange, Short: "1D %", Kind: KindNumber},
		{Name: CategoryDividendYield, Short: "Div %", Kind: KindNumber},
		{Name: CategoryMarketCap, Short: "Mkt Cap", Kind: KindNumber},
		{Name: CategoryYearChange, Short: "52W %", Kind: KindNumber},
	}
}
