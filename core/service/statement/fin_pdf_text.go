// Package statement parses bank statement PDFs into typed row lists. The
// credit-card layout is a labeled grid walked by a section state machine;
// deposit-account layouts that defeat the grid heuristics are delegated to
// the LLM with a strict JSON contract.
package statement

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractText pulls the plain text of every page, in page order.
func ExtractText(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		rows, err := page.GetTextByRow()
		if err != nil {
			continue
		}
		for _, row := range rows {
			for _, word := range row.Content {
				sb.WriteString(word.S)
				sb.WriteByte(' ')
			}
			sb.WriteByte('\n')
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("pdf contains no extractable text")
	}
	return sb.String(), nil
}
