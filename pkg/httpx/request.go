package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/dmehra2102/sweet-shop/pkg/apperr"
	"github.com/dmehra2102/sweet-shop/pkg/paging"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode reads a JSON body into dst and runs its validate tags. An empty body
// decodes to the zero value so handlers can apply defaults.
func Decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("Request body too large")
		}
		return apperr.Validation("Invalid JSON body").Wrap(err)
	}
	return Validate(dst)
}

// Validate runs validate tags on v and converts the failures to field errors.
// The first failure becomes the message.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Internal(err)
	}
	fields := make([]apperr.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apperr.FieldError{Field: fieldPath(fe), Message: describe(fe)})
	}
	return apperr.Validation(fields[0].Message).WithDetails(fields)
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	f := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return f + " is required"
	case "email":
		return "Please provide a valid email address"
	case "min", "gte":
		if fe.Kind() == reflect.String {
			return f + " must be at least " + fe.Param() + " characters"
		}
		if fe.Kind() == reflect.Slice {
			return f + " must contain at least " + fe.Param() + " item(s)"
		}
		return f + " must be at least " + fe.Param()
	case "max", "lte":
		if fe.Kind() == reflect.String {
			return f + " cannot exceed " + fe.Param() + " characters"
		}
		if fe.Kind() == reflect.Slice {
			return f + " cannot contain more than " + fe.Param() + " items"
		}
		return f + " cannot exceed " + fe.Param()
	case "gt":
		return f + " must be greater than " + fe.Param()
	case "oneof":
		return f + " must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "uuid", "uuid4":
		return f + " must be a valid id"
	default:
		return f + " is invalid"
	}
}

// QueryInt parses an optional integer query parameter.
func QueryInt(r *http.Request, key string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.FieldValidation(key, key+" must be an integer")
	}
	return n, nil
}

// PageParams reads page and limit, defaulting to the first page of
// paging.DefaultLimit results.
func PageParams(r *http.Request) (paging.Page, error) {
	number, err := QueryInt(r, "page", 1)
	if err != nil {
		return paging.Page{}, err
	}
	limit, err := QueryInt(r, "limit", paging.DefaultLimit)
	if err != nil {
		return paging.Page{}, err
	}
	return paging.New(number, limit)
}
