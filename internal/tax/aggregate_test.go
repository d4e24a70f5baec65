package tax

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"modelo130/pkg/models"
)

func TestAggregate(t *testing.T) {
	records := []models.Record{
		{Classification: models.Income, BaseAmount: d("1000"), WithheldAmount: d("150")},
		{Classification: models.Expense, BaseAmount: d("121.50"), WithheldAmount: d("99")},
		{Classification: models.Income, BaseAmount: d("500.25")},
		{Classification: models.Expense, BaseAmount: d("78.50")},
	}

	totals := Aggregate(records)
	assert.Equal(t, "1500.25", totals.Income.String())
	assert.Equal(t, "200", totals.Expense.String())
	assert.Equal(t, "150", totals.Withholding.String(), "expense withholding is ignored")

	// Order does not matter
	reversed := []models.Record{records[3], records[2], records[1], records[0]}
	again := Aggregate(reversed)
	assert.True(t, totals.Income.Equal(again.Income))
	assert.True(t, totals.Expense.Equal(again.Expense))
	assert.True(t, totals.Withholding.Equal(again.Withholding))
}

func TestAggregateEmpty(t *testing.T) {
	totals := Aggregate(nil)
	assert.True(t, totals.Income.IsZero())
	assert.True(t, totals.Expense.IsZero())
	assert.True(t, totals.Withholding.IsZero())
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		computed Totals
		manual   Manual
		want     Totals
	}{
		{
			name:     "manual fills zero totals",
			computed: Totals{Income: d("0"), Expense: d("0"), Withholding: d("0")},
			manual:   Manual{Income: dp("2000"), Expense: dp("300"), Withholding: dp("40")},
			want:     Totals{Income: d("2000"), Expense: d("300"), Withholding: d("40")},
		},
		{
			name:     "computed positive wins",
			computed: Totals{Income: d("1500"), Expense: d("200"), Withholding: d("0")},
			manual:   Manual{Income: dp("9999"), Expense: dp("9999")},
			want:     Totals{Income: d("1500"), Expense: d("200"), Withholding: d("0")},
		},
		{
			name:     "manual zero still wins over computed zero",
			computed: Totals{Income: d("0"), Expense: d("0"), Withholding: d("0")},
			manual:   Manual{Income: dp("0")},
			want:     Totals{Income: d("0"), Expense: d("0"), Withholding: d("0")},
		},
		{
			name:     "no manual values",
			computed: Totals{Income: d("10"), Expense: d("0"), Withholding: d("0")},
			want:     Totals{Income: d("10"), Expense: d("0"), Withholding: d("0")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(tt.computed, tt.manual)
			assert.True(t, tt.want.Income.Equal(got.Income), "income %s", got.Income)
			assert.True(t, tt.want.Expense.Equal(got.Expense), "expense %s", got.Expense)
			assert.True(t, tt.want.Withholding.Equal(got.Withholding), "withholding %s", got.Withholding)
		})
	}
}
