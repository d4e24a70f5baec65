package invoice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelo130/internal/tabular"
	"modelo130/pkg/models"
)

func readCSV(t *testing.T, content string) *tabular.Table {
	t.Helper()
	table, err := tabular.Read(tabular.CSV, []byte(content))
	require.NoError(t, err)
	return table
}

func TestFromTableIncome(t *testing.T) {
	table := readCSV(t, "Fecha;NIF;Importe sin IVA;IVA;Retención\n"+
		"15/01/2024;B12345678;1.000,00;210,00;150,00\n"+
		"2024-02-20;;500;;\n"+
		"no es fecha;X;abc;-3;\n")

	records, err := NewNormalizer().FromTable(table, models.Income, "ingresos.csv")
	require.NoError(t, err)
	require.Len(t, records, 3)

	first := records[0]
	require.NotNil(t, first.Date)
	assert.Equal(t, "2024-01-15", first.Date.Format("2006-01-02"))
	assert.Equal(t, "B12345678", first.CounterpartID)
	assert.Equal(t, "1000", first.BaseAmount.String())
	assert.Equal(t, "210", first.VATAmount.String())
	assert.Equal(t, "150", first.WithheldAmount.String())
	assert.Equal(t, "ingresos.csv", first.SourceLabel)
	assert.Equal(t, models.Income, first.Classification)

	require.NotNil(t, records[1].Date)
	assert.Equal(t, "2024-02-20", records[1].Date.Format("2006-01-02"))
	assert.Equal(t, "500", records[1].BaseAmount.String())

	last := records[2]
	assert.Nil(t, last.Date)
	assert.True(t, last.BaseAmount.IsZero())
	assert.True(t, last.VATAmount.IsZero(), "negative cells normalize to zero")
}

func TestFromTableExpenseUsesGrossColumn(t *testing.T) {
	table := readCSV(t, "fecha,importe\n01/03/2024,\"121,00\"\n")

	records, err := NewNormalizer().FromTable(table, models.Expense, "gastos.csv")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "121", records[0].BaseAmount.String())
	assert.Equal(t, models.Expense, records[0].Classification)
}

func TestFromTableMissingColumn(t *testing.T) {
	tests := []struct {
		name    string
		content string
		class   models.Classification
	}{
		{name: "income without importe_sin_iva", content: "fecha,importe\n01/01/2024,10,00\n", class: models.Income},
		{name: "expense without importe", content: "fecha,importe_sin_iva\n01/01/2024,10\n", class: models.Expense},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := NewNormalizer().FromTable(readCSV(t, tt.content), tt.class, "x.csv")
			assert.Nil(t, records)
			assert.ErrorIs(t, err, ErrMissingColumn)

			var normErr *NormalizeError
			require.ErrorAs(t, err, &normErr)
			assert.Equal(t, "x.csv", normErr.Source)
			assert.Contains(t, err.Error(), RequiredColumn(tt.class))
		})
	}
}

func TestFromTableUnknownClassification(t *testing.T) {
	_, err := NewNormalizer().FromTable(readCSV(t, "importe\n1\n"), models.Classification("other"), "x.csv")
	assert.ErrorIs(t, err, ErrUnknownClassification)
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "05/01/2024", want: "2024-01-05", ok: true},
		{in: "5-1-24", want: "2024-01-05", ok: true},
		{in: "05.01.2024", want: "2024-01-05", ok: true},
		{in: "2024-01-05", want: "2024-01-05", ok: true},
		{in: "31/02/2024", ok: false},
		{in: "13/13/2024", ok: false},
		{in: "", ok: false},
		{in: "mañana", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := parseDate(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got.Format("2006-01-02"))
			}
		})
	}
}
