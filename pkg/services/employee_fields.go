package services

import (
	"strings"

	"github.com/ekaya-inc/paygap-engine/pkg/models"
	"github.com/ekaya-inc/paygap-engine/pkg/normalize"
)

// Row-level validation messages.
const (
	msgMissingRequired   = "missing required field"
	msgUnparseableSalary = "unparseable salary"
	msgUnparseableNumber = "unparseable number"
)

// numericFields are parsed with normalize.NormalizeSalary.
var numericFields = map[string]bool{
	models.FieldBaseSalary:  true,
	models.FieldBonusTarget: true,
	models.FieldLTITarget:   true,
}

// mappedValue returns the trimmed cell for field, or "" when the field is
// unmapped or the cell is blank.
func mappedValue(record map[string]string, mapping models.ColumnMapping, field string) string {
	col, ok := mapping.Column(field)
	if !ok {
		return ""
	}
	return strings.TrimSpace(record[col])
}

func optionalString(record map[string]string, mapping models.ColumnMapping, field string) *string {
	v := mappedValue(record, mapping, field)
	if v == "" {
		return nil
	}
	return &v
}

// buildEmployeeAttributes converts one source row into canonical attributes.
// A row missing a required field, or whose salary cannot be parsed, yields a
// RowError (Row left zero for the caller to fill) and no attributes.
func buildEmployeeAttributes(record map[string]string, mapping models.ColumnMapping) (*models.EmployeeAttributes, *models.RowError) {
	for _, field := range models.RequiredFields {
		if mappedValue(record, mapping, field) == "" {
			return nil, &models.RowError{Field: field, Message: msgMissingRequired}
		}
	}

	salary := normalize.NormalizeSalary(mappedValue(record, mapping, models.FieldBaseSalary))
	if salary == nil {
		return nil, &models.RowError{Field: models.FieldBaseSalary, Message: msgUnparseableSalary}
	}
	base := *salary
	if _, ok := mapping.Column(models.FieldPayPeriod); ok {
		base = normalize.AnnualizeSalary(base, mappedValue(record, mapping, models.FieldPayPeriod))
	}

	attrs := &models.EmployeeAttributes{
		ExternalID:        mappedValue(record, mapping, models.FieldEmployeeID),
		RoleTitle:         mappedValue(record, mapping, models.FieldRoleTitle),
		JobFamily:         optionalString(record, mapping, models.FieldJobFamily),
		Level:             mappedValue(record, mapping, models.FieldLevel),
		Country:           normalize.NormalizeCountry(mappedValue(record, mapping, models.FieldCountry)),
		Location:          optionalString(record, mapping, models.FieldLocation),
		Currency:          strings.ToUpper(mappedValue(record, mapping, models.FieldCurrency)),
		BaseSalary:        base,
		BonusTarget:       normalize.NormalizeSalary(mappedValue(record, mapping, models.FieldBonusTarget)),
		LTITarget:         normalize.NormalizeSalary(mappedValue(record, mapping, models.FieldLTITarget)),
		HireDate:          normalize.ParseDate(mappedValue(record, mapping, models.FieldHireDate)),
		EmploymentType:    optionalString(record, mapping, models.FieldEmploymentType),
		Gender:            optionalString(record, mapping, models.FieldGender),
		PerformanceRating: optionalString(record, mapping, models.FieldPerformanceRating),
	}
	return attrs, nil
}
