package fiscal

import (
	"testing"

	"github.com/safar/go-ticket-store/internal/models"
)

func TestCreditNoteSeries(t *testing.T) {
	cases := map[string]string{
		"B001": "BC01",
		"F001": "FC01",
		"F":    "FC",
		"":     "C",
		"B1":   "BC",
	}
	for in, want := range cases {
		if got := CreditNoteSeries(in); got != want {
			t.Errorf("series %q: expected %s, got %s", in, want, got)
		}
	}
}

func TestFormatNumber(t *testing.T) {
	if got := FormatNumber("B001", 42); got != "B001-00000042" {
		t.Errorf("Expected B001-00000042, got %s", got)
	}
	if got := FormatNumber("FC01", 123456789); got != "FC01-123456789" {
		t.Errorf("Expected FC01-123456789, got %s", got)
	}
}

func TestSaleDocumentType(t *testing.T) {
	is := NewIssuer("B001", "F001")

	docType, series := is.SaleDocumentType(&models.Order{})
	if docType != models.DocumentTypeReceipt || series != "B001" {
		t.Errorf("Expected receipt B001, got %s %s", docType, series)
	}

	docType, series = is.SaleDocumentType(&models.Order{BuyerTaxID: "20123456789"})
	if docType != models.DocumentTypeInvoice || series != "F001" {
		t.Errorf("Expected invoice F001, got %s %s", docType, series)
	}
}
