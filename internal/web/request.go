package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	errBadRequest    = errors.New("bad request")
	errPrintDisabled = errors.New("agenda printing is disabled")
)

// decode reads a JSON body into dst and runs its validate tags.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" ("+fe.Tag()+")")
			}
			return fmt.Errorf("%w: invalid fields: %s", errBadRequest, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// parseTime accepts RFC 3339 instants and YYYY-MM-DD dates, the latter at
// local midnight in loc. The empty string yields the zero time.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(time.DateOnly, s, loc); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: bad time %q", errBadRequest, s)
}

// window reads the from/to query parameters. A date-only to covers the
// whole day.
func window(r *http.Request, loc *time.Location) (from, to time.Time, err error) {
	q := r.URL.Query()
	if from, err = parseTime(q.Get("from"), loc); err != nil {
		return
	}
	raw := q.Get("to")
	if to, err = parseTime(raw, loc); err != nil {
		return
	}
	if len(raw) == len(time.DateOnly) {
		to = to.AddDate(0, 0, 1).Add(-time.Nanosecond)
	}
	return
}

func boolQuery(r *http.Request, name string) bool {
	switch strings.ToLower(r.URL.Query().Get(name)) {
	case "1", "true", "yes":
		return true
	}
	return false
}
