package decoder

import (
	"errors"
	"fmt"
	"strings"

	"sensorlink/internal/domain/models"
)

var (
	ErrFieldParse     = errors.New("decoder: field parse failure")
	ErrFieldCount     = errors.New("decoder: not enough positional fields")
	ErrEmptyLine      = errors.New("decoder: line contains no known fields")
	ErrUnknownVariant = errors.New("decoder: unknown protocol variant")
	ErrNotFinite      = errors.New("decoder: value is not a finite number")
)

// FieldError описывает одно поле, значение которого не удалось разобрать.
// Обновление этого поля отбрасывается, остальные поля строки применяются.
type FieldError struct {
	Field models.Field
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("decoder: cannot parse %s value %q: %v", e.Field, e.Value, e.Err)
}

func (e *FieldError) Unwrap() []error {
	return []error{ErrFieldParse, e.Err}
}

// LineError объединяет ошибки разбора отдельных полей одной строки
type LineError struct {
	Fields []*FieldError
}

func (e *LineError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Error())
	}
	return strings.Join(parts, "; ")
}

func (e *LineError) Unwrap() []error {
	errs := make([]error, 0, len(e.Fields))
	for _, f := range e.Fields {
		errs = append(errs, f)
	}
	return errs
}

// FailedFields возвращает имена полей, которые не удалось разобрать.
func FailedFields(err error) []models.Field {
	var le *LineError
	if !errors.As(err, &le) {
		return nil
	}
	fields := make([]models.Field, 0, len(le.Fields))
	for _, f := range le.Fields {
		fields = append(fields, f.Field)
	}
	return fields
}
