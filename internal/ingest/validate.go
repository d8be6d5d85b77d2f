package ingest

import (
	"reflect"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"

	"github.com/david/investor-crm/internal/models"
)

var recordValidator = newRecordValidator()

func newRecordValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterStructValidation(validateText, models.InvestorRecord{})
	return v
}

// validateText rejects text that is not UTF-8, which Postgres refuses for a
// whole statement. Files saved as Latin-1 or Windows-1252 end up here.
func validateText(sl validator.StructLevel) {
	rv := sl.Current()
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		f := rv.Field(i)
		var texts []string
		switch {
		case f.Kind() == reflect.String:
			texts = []string{f.String()}
		case f.Kind() == reflect.Slice && f.Type().Elem().Kind() == reflect.String:
			texts = f.Interface().([]string)
		default:
			continue
		}
		for _, s := range texts {
			if !utf8.ValidString(s) {
				name := strings.SplitN(rt.Field(i).Tag.Get("json"), ",", 2)[0]
				sl.ReportError(f.Interface(), name, rt.Field(i).Name, "utf8", "")
				break
			}
		}
	}
}

// validateRecord checks the fields an investor cannot be stored without.
func validateRecord(rec models.InvestorRecord) error {
	err := recordValidator.Struct(rec)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ValidationError{Field: "record", Reason: err.Error()}
	}
	fe := verrs[0]
	reason := "is invalid"
	switch fe.Tag() {
	case "required":
		reason = "is required"
	case "oneof":
		reason = "must be one of " + fe.Param()
	case "utf8":
		reason = "is not valid UTF-8 text, save the file as UTF-8"
	}
	return &ValidationError{Field: fe.Field(), Reason: reason}
}
