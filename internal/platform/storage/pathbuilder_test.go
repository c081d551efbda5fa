package storage

import "testing"

func TestBuildOrderExportPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeOrderExport, PathParams{
		ExportID: "exp123",
		FileName: "orders-20250312.csv",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "exports/orders/exp123/orders-20250312.csv"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildReceiptPathUsesInvoiceNumber(t *testing.T) {
	path, err := BuildObjectPath(PurposeReceipt, PathParams{
		OrderID:       "order123",
		InvoiceNumber: "INV-2025-001",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "assets/orders/order123/invoices/INV-2025-001.pdf"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeOrderExport, PathParams{
		ExportID: "../bad",
		FileName: "file.csv",
	})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
}
