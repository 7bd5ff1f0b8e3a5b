// Package models defines the data structures used in the application.
package models

// Entity is one tracked company: its ticker, display name and one value per
// declared category, aligned with the category order of the table it lives in.
type Entity struct {
	Symbol string
	Name   string
	Values []Value
}

// Clone returns a copy that shares no memory with e.
func (e Entity) Clone() Entity {
	values := make([]Value, len(e.Values))
	copy(values, e.Values)
	return Entity{Symbol: e.Symbol, Name: e.Name, Values: values}
}

// Constituent is one row of the index membership list.
type Constituent struct {
	Name     string
	Symbol   string
	Exchange string
	Industry string
	Weight   Value // Index weighting in percent
}

// Quote holds the market data fetched for one ticker. Fields the source could
// not supply are Missing and leave the stored value untouched.
type Quote struct {
	Symbol        string
	Price         Value
	DayChange     Value // 1D % Growth
	DividendYield Value // percent
	MarketCap     Value
	YearChange    Value // 52 Week Change, percent
}

// Fields maps the non-missing quote fields to their category names.
func (q Quote) Fields() map[string]Value {
	fields := make(map[string]Value, 5)
	add := func(name string, v Value) {
		if !v.IsMissing() {
			fields[name] = v
		}
	}
	add(CategoryPrice, q.Price)
	add(CategoryDayChange, q.DayChange)
	add(CategoryDividendYield, q.DividendYield)
	add(CategoryMarketCap, q.MarketCap)
	add(CategoryYearChange, q.YearChange)
	return fields
}

// Merge fills the missing fields of q from other.
func (q Quote) Merge(other Quote) Quote {
	pick := func(a, b Value) Value {
		if a.IsMissing() {
			return b
		}
		return a
	}
	q.Price = pick(q.Price, other.Price)
	q.DayChange = pick(q.DayChange, other.DayChange)
	q.DividendYield = pick(q.DividendYield, other.DividendYield)
	q.MarketCap = pick(q.MarketCap, other.MarketCap)
	q.YearChange = pick(q.YearChange, other.YearChange)
	return q
}

// Complete reports whether every field has data.
func (q Quote) Complete() bool {
	return len(q.Fields()) == 5
}
