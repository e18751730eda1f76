package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeQuery(t *testing.T) {
	testCases := []struct {
		in   string
		want string
	}{
		{"Daily DEX Volume", "daily dex volume"},
		{"  daily dex volume  ", "daily dex volume"},
		{"daily\tdex \n volume", "daily dex volume"},
		{"", ""},
		{"   ", ""},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.want, NormalizeQuery(tc.in), "input %q", tc.in)
	}
}

func TestChartSpec_APIIDs(t *testing.T) {
	spec := ChartSpec{Series: []Series{
		{Key: "volume", APIID: "dex-volume"},
		{Key: "trades", APIID: "dex-volume"},
		{Key: "fees", APIID: "economic-value"},
	}}

	assert.Equal(t, []string{"dex-volume", "economic-value"}, spec.APIIDs())
}

func TestChartType_Valid(t *testing.T) {
	for _, ct := range ChartTypes() {
		assert.True(t, ChartType(ct).Valid(), ct)
	}
	assert.False(t, ChartType("scatter").Valid())
}

func TestAPIDescriptor_Columns(t *testing.T) {
	d := APIDescriptor{Columns: []Column{
		{Name: "date", Type: ColumnDate},
		{Name: "volume", Type: ColumnNumber},
		{Name: "program", Type: ColumnString},
		{Name: "trades", Type: ColumnNumber},
	}}

	col, ok := d.Column("volume")
	assert.True(t, ok)
	assert.Equal(t, ColumnNumber, col.Type)

	_, ok = d.Column("missing")
	assert.False(t, ok)

	assert.Len(t, d.ColumnsOfType(ColumnNumber), 2)
}
