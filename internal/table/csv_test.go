package table

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dow30tracker/models"
)

func TestSaveLoad_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	path := filepath.Join(t.TempDir(), "data", "DOW30_database.csv")

	require.NoError(t, SaveStore(path, s))

	rows, err := Load(path, testCategories, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "AAA", rows[0].Symbol)
	assert.Equal(t, "Alpha", rows[0].Name)
	assert.True(t, rows[0].Values[1].Equal(price(50)))
	assert.Equal(t, models.Text("NASDAQ"), rows[1].Values[0])

	// No temporary files are left next to the table.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoad_MatchesColumnsByName(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db.csv")
	content := "Symbol,Stock Price,Volume,Company\n" +
		"AAA,12.5,100,Alpha\n" +
		"BBB,-,200,Beta\n" +
		"CCC,abc,300,Gamma\n" +
		",1,1,Blank\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	var malformed []string
	rows, err := Load(path, testCategories, func(symbol, category string, err error) {
		malformed = append(malformed, symbol+"/"+category)
		assert.ErrorIs(t, err, models.ErrMalformedValue)
	})
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "Alpha", rows[0].Name)
	assert.True(t, rows[0].Values[0].IsMissing(), "Exchange column absent from file")
	assert.Equal(t, "12.5", rows[0].Values[1].String())
	assert.True(t, rows[1].Values[1].IsMissing())
	assert.True(t, rows[2].Values[1].IsMissing())
	assert.Equal(t, []string{"CCC/" + models.CategoryPrice}, malformed)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.csv"), testCategories, nil)
	require.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, nil, 0644))
	_, err = Load(empty, testCategories, nil)
	require.Error(t, err)

	noSymbol := filepath.Join(dir, "nosym.csv")
	require.NoError(t, os.WriteFile(noSymbol, []byte("Company,Stock Price\nAlpha,1\n"), 0644))
	_, err = Load(noSymbol, testCategories, nil)
	require.Error(t, err)
}

func TestMerge(t *testing.T) {
	persisted := []models.Entity{
		{Symbol: "BBB", Name: "Old Beta", Values: []models.Value{models.Text("NYSE"), price(30)}},
		{Symbol: "OLD", Name: "Dropped", Values: []models.Value{models.Text("NYSE"), price(5)}},
	}
	live := []models.Constituent{
		{Symbol: "CCC", Name: "Gamma", Exchange: "NASDAQ"},
		{Symbol: "BBB", Name: "Beta", Exchange: "NASDAQ"},
	}

	rows, fromLive := Merge(persisted, live, testCategories, 2)
	require.True(t, fromLive)
	require.Len(t, rows, 2)
	assert.Equal(t, "BBB", rows[0].Symbol)
	assert.Equal(t, "Beta", rows[0].Name)
	assert.Equal(t, models.Text("NASDAQ"), rows[0].Values[0])
	assert.Equal(t, "30", rows[0].Values[1].String(), "persisted price kept")
	assert.Equal(t, "CCC", rows[1].Symbol)
	assert.True(t, rows[1].Values[1].IsMissing())

	// A short live list falls back to the persisted table.
	rows, fromLive = Merge(persisted, live[:1], testCategories, 2)
	assert.False(t, fromLive)
	assert.Equal(t, "BBB", rows[0].Symbol)
	assert.Equal(t, "OLD", rows[1].Symbol)
}
