package table

import (
	"sort"

	"dow30tracker/models"
)

// Merge builds the seed rows for a run. When live holds exactly size
// constituents, membership, names, exchange, industry and index weight come
// from it (sorted by symbol) and the persisted market values of symbols that
// are still members are kept. Otherwise the persisted rows are returned as-is.
func Merge(persisted []models.Entity, live []models.Constituent, categories []models.Category, size int) ([]models.Entity, bool) {
	if len(live) != size || size == 0 {
		out := make([]models.Entity, len(persisted))
		for i, row := range persisted {
			out[i] = row.Clone()
		}
		return out, false
	}

	previous := make(map[string]models.Entity, len(persisted))
	for _, row := range persisted {
		previous[row.Symbol] = row
	}

	col := make(map[string]int, len(categories))
	for i, c := range categories {
		col[c.Name] = i
	}
	set := func(values []models.Value, name string, v models.Value) {
		if i, ok := col[name]; ok {
			values[i] = v
		}
	}

	members := make([]models.Constituent, len(live))
	copy(members, live)
	sort.Slice(members, func(i, j int) bool { return members[i].Symbol < members[j].Symbol })

	rows := make([]models.Entity, 0, len(members))
	for _, m := range members {
		values := make([]models.Value, len(categories))
		if prev, ok := previous[m.Symbol]; ok && len(prev.Values) == len(categories) {
			copy(values, prev.Values)
		}
		if m.Exchange != "" {
			set(values, models.CategoryExchange, models.Text(m.Exchange))
		}
		if m.Industry != "" {
			set(values, models.CategoryIndustry, models.Text(m.Industry))
		}
		if !m.Weight.IsMissing() {
			set(values, models.CategoryWeight, m.Weight)
		}
		rows = append(rows, models.Entity{Symbol: m.Symbol, Name: m.Name, Values: values})
	}
	return rows, true
}
