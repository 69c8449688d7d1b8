package capture

import (
	"context"
	"errors"
	"testing"
)

func TestPrintPDFRequiresURL(t *testing.T) {
	if _, err := PrintPDF(context.Background(), PrintOptions{}); !errors.Is(err, ErrNoURL) {
		t.Fatalf("expected ErrNoURL, got %v", err)
	}
}
