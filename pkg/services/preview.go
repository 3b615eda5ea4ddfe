package services

import (
	"fmt"

	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/normalize"
	"github.com/ekaya-inc/paygap-engine/pkg/tabular"
)

// PreviewRow is one sampled row after mapping and normalization.
type PreviewRow struct {
	RowNumber int            `json:"rowNumber"`
	Data      map[string]any `json:"data"`
	Warnings  []string       `json:"warnings"`
}

// PreviewResult is what a confirmed mapping would produce for the sample.
// TotalRows comes from the full scan; ValidRows = TotalRows - WarningRows.
type PreviewResult struct {
	Rows        []PreviewRow `json:"rows"`
	TotalRows   int          `json:"totalRows"`
	ValidRows   int          `json:"validRows"`
	WarningRows int          `json:"warningRows"`
}

// PreviewGenerator applies a mapping to a sample without touching persisted state.
type PreviewGenerator interface {
	Generate(sample *tabular.Sample, mapping models.ColumnMapping) *PreviewResult
}

type previewGenerator struct{}

// NewPreviewGenerator creates a PreviewGenerator.
func NewPreviewGenerator() PreviewGenerator {
	return previewGenerator{}
}

var _ PreviewGenerator = previewGenerator{}

func (previewGenerator) Generate(sample *tabular.Sample, mapping models.ColumnMapping) *PreviewResult {
	result := &PreviewResult{
		Rows:      make([]PreviewRow, 0, len(sample.Rows)),
		TotalRows: sample.TotalRows,
	}

	for i, record := range sample.Rows {
		rowNumber := i + 1
		if i < len(sample.RowNumbers) {
			rowNumber = sample.RowNumbers[i]
		}
		row := previewRow(rowNumber, record, mapping)
		if len(row.Warnings) > 0 {
			result.WarningRows++
		}
		result.Rows = append(result.Rows, row)
	}

	result.ValidRows = result.TotalRows - result.WarningRows
	if result.ValidRows < 0 {
		result.ValidRows = 0
	}
	return result
}

func previewRow(rowNumber int, record map[string]string, mapping models.ColumnMapping) PreviewRow {
	row := PreviewRow{
		RowNumber: rowNumber,
		Data:      make(map[string]any),
		Warnings:  []string{},
	}

	for _, field := range models.CanonicalFields {
		_, mapped := mapping.Column(field)
		required := models.IsRequiredField(field)
		if !mapped && !required {
			continue
		}

		raw := mappedValue(record, mapping, field)
		if raw == "" {
			row.Data[field] = nil
			if required {
				row.Warnings = append(row.Warnings, fmt.Sprintf("%s: %s", field, msgMissingRequired))
			}
			continue
		}

		switch {
		case field == models.FieldCountry:
			row.Data[field] = normalize.NormalizeCountry(raw)
		case numericFields[field]:
			v := normalize.NormalizeSalary(raw)
			if v == nil {
				row.Data[field] = raw
				row.Warnings = append(row.Warnings, fmt.Sprintf("%s: %s %q", field, msgUnparseableNumber, raw))
				continue
			}
			amount := *v
			if field == models.FieldBaseSalary {
				if period := mappedValue(record, mapping, models.FieldPayPeriod); period != "" {
					amount = normalize.AnnualizeSalary(amount, period)
				}
			}
			row.Data[field] = amount
		default:
			row.Data[field] = raw
		}
	}

	return row
}
