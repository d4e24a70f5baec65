package invoice_test

import (
	"fmt"

	"modelo130/internal/invoice"
	"modelo130/pkg/models"
)

// Example shows the free-text heuristic on recognized invoice text.
func Example() {
	text := "Fecha: 02/04/2024\nNIF: B12345678\nBase imponible: 800,00\nIVA: 168,00\nRetención: 120,00"

	record := invoice.NewNormalizer().FromText(text, models.Income, "scan.jpg", 0)

	fmt.Println(record.Date.Format("02/01/2006"))
	fmt.Println(record.CounterpartID)
	fmt.Println(record.BaseAmount.StringFixed(2), record.VATAmount.StringFixed(2), record.WithheldAmount.StringFixed(2))
	// Output:
	// 02/04/2024
	// B12345678
	// 800.00 168.00 120.00
}
