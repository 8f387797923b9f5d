package attendance

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jacksonlee411/college-attendance-desk/pkg/portalerr"
)

var ErrIncompleteFilter = errors.New("attendance: year, group, month and academic year are required")

// FilterSet identifies one class-month attendance view.
type FilterSet struct {
	Year         int    `json:"year" validate:"min=1,max=3"`
	Group        Group  `json:"group" validate:"oneof=mpc bipc cec hec mec"`
	Medium       Medium `json:"medium" validate:"omitempty,oneof=english telugu"`
	AcademicYear string `json:"academic_year" validate:"academic_year"`
	Month        string `json:"month" validate:"month"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("month", func(fl validator.FieldLevel) bool {
		return slices.Contains(Months, fl.Field().String())
	})
	_ = v.RegisterValidation("academic_year", func(fl validator.FieldLevel) bool {
		return validAcademicYear(fl.Field().String())
	})
	return v
}

// validAcademicYear accepts "YYYY-YYYY" where the second year follows the first.
func validAcademicYear(s string) bool {
	if len(s) != 9 || s[4] != '-' {
		return false
	}
	start, err := strconv.Atoi(s[:4])
	if err != nil {
		return false
	}
	end, err := strconv.Atoi(s[5:])
	if err != nil {
		return false
	}
	return start >= 1900 && end == start+1
}

// Normalize trims and lowercases the enumerated fields.
func (f FilterSet) Normalize() FilterSet {
	f.Group = Group(strings.ToLower(strings.TrimSpace(string(f.Group))))
	f.Medium = Medium(strings.ToLower(strings.TrimSpace(string(f.Medium))))
	f.Month = strings.ToLower(strings.TrimSpace(f.Month))
	f.AcademicYear = strings.TrimSpace(f.AcademicYear)
	return f
}

// Complete reports whether every required field is set. Medium may be empty.
func (f FilterSet) Complete() bool {
	return f.Year != 0 && f.Group != "" && f.Month != "" && f.AcademicYear != ""
}

func (f FilterSet) Validate() error {
	if err := validate.Struct(f); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return portalerr.NewValidation(fe.Field(), fmt.Sprintf("invalid value %v", fe.Value()))
		}
		return err
	}
	return nil
}

// Key is the cache key for f.
func (f FilterSet) Key() string {
	medium := string(f.Medium)
	if medium == "" {
		medium = "all"
	}
	return fmt.Sprintf("%d-%s-%s-%s-%s", f.Year, f.Group, medium, f.AcademicYear, f.Month)
}

func (f FilterSet) String() string {
	return f.Key()
}
