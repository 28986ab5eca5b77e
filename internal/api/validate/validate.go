package validate

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type ErrField struct {
	Field string `json:"field"`
	Msg   string `json:"msg"`
}

type Errs []ErrField

func (e Errs) Error() string { // error interface
	var b strings.Builder
	for i, ef := range e {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(ef.Field + ": " + ef.Msg)
	}
	return b.String()
}

// Add appends non-nil field errors.
func (e *Errs) Add(fs ...*ErrField) {
	for _, f := range fs {
		if f != nil {
			*e = append(*e, *f)
		}
	}
}

// Err returns nil when no field failed.
func (e Errs) Err() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Helpers
func Required(field, value string) *ErrField {
	if strings.TrimSpace(value) == "" {
		return &ErrField{Field: field, Msg: "required"}
	}
	return nil
}

func MinInt(field string, v, min int64) *ErrField {
	if v < min {
		return &ErrField{Field: field, Msg: "must be >= " + strconv.FormatInt(min, 10)}
	}
	return nil
}

func MaxInt(field string, v, max int64) *ErrField {
	if v > max {
		return &ErrField{Field: field, Msg: "must be <= " + strconv.FormatInt(max, 10)}
	}
	return nil
}

// PositiveAmount requires a major-unit amount > 0 with at most two decimals.
func PositiveAmount(field string, v decimal.Decimal) *ErrField {
	if !v.IsPositive() {
		return &ErrField{Field: field, Msg: "must be > 0"}
	}
	if v.Exponent() < -2 && !v.Equal(v.Round(2)) {
		return &ErrField{Field: field, Msg: "at most 2 decimal places"}
	}
	return nil
}

func OneOf(field, value string, allowed ...string) *ErrField {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ErrField{Field: field, Msg: "must be one of " + strings.Join(allowed, ", ")}
}

func CurrencyCode(field, value string) *ErrField {
	if len(value) != 3 || strings.ToUpper(value) != value {
		return &ErrField{Field: field, Msg: "must be a 3-letter upper-case code"}
	}
	return nil
}
