package schema

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// ValidationError reports why a submitted value was refused. The workflow
// engine re-prompts with Reason and leaves its cursor in place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid value for %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ValidateField normalizes one raw input against its field spec.
func ValidateField(spec *FieldSpec, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	if spec.Normalize != nil {
		return spec.Normalize(raw)
	}

	switch spec.Kind {
	case KindString:
		if raw == "" {
			return nil, invalid(spec.Key, "must not be empty")
		}
		return raw, nil

	case KindBool:
		switch strings.ToLower(raw) {
		case "true", "yes", "y", "1":
			return true, nil
		case "false", "no", "n", "0":
			return false, nil
		}
		return nil, invalid(spec.Key, "expected true or false, got %q", raw)

	case KindURL:
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, invalid(spec.Key, "expected an http(s) URL, got %q", raw)
		}
		return u.String(), nil

	case KindDate:
		return normalizeDate(spec.Key, raw)

	case KindDatetime:
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, invalid(spec.Key, "expected an RFC 3339 timestamp like 2024-01-31T09:00:00Z, got %q", raw)
		}
		return t.Format(time.RFC3339), nil

	case KindJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, invalid(spec.Key, "expected valid JSON: %v", err)
		}
		return v, nil

	case KindJSONObject:
		return normalizeJSONObject(spec.Key, raw)

	case KindEnumSet:
		return normalizeEnumSet(spec, raw)

	case KindStringList:
		return splitList(raw), nil

	case KindReference:
		if !handlePattern.MatchString(raw) {
			return nil, invalid(spec.Key, "expected a registry handle like 12345/abc-def, got %q", raw)
		}
		return raw, nil
	}

	return nil, invalid(spec.Key, "unhandled field kind %q", spec.Kind)
}

var handlePattern = regexp.MustCompile(`^\S+/\S+$`)

// dateLayouts are the input formats accepted for date fields; all are
// normalized to YYYY-MM-DD.
var dateLayouts = []string{"2006-01-02", "2006/01/02", "02/01/2006", "2 January 2006", "January 2, 2006"}

func normalizeDate(field, raw string) (any, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.Format("2006-01-02"), nil
		}
	}
	return nil, invalid(field, "expected a date like 2024-01-31, got %q", raw)
}

// normalizeJSONObject parses a JSON object and stringifies its values, the
// shape the registry expects for free-form metadata maps.
func normalizeJSONObject(field, raw string) (any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, invalid(field, `expected a JSON object like {"key": "value"}: %v`, err)
	}
	out := make(map[string]string, len(obj))
	for k, v := range obj {
		if s, ok := v.(string); ok {
			out[k] = s
		} else {
			out[k] = fmt.Sprint(v)
		}
	}
	return out, nil
}

func normalizeEnumSet(spec *FieldSpec, raw string) (any, error) {
	values := splitList(raw)
	for _, v := range values {
		if !contains(spec.Enum, v) {
			return nil, invalid(spec.Key, "%q is not one of %v", v, spec.Enum)
		}
	}
	return values, nil
}

// splitList turns comma-separated input into trimmed entries, dropping
// empties.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// NormalizeEmail validates a plain email address.
func NormalizeEmail(raw string) (any, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return nil, invalid("email", "expected an email address like name@example.org, got %q", raw)
	}
	return addr.Address, nil
}

var orcidPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)

// NormalizeORCID accepts a bare ORCID iD or a full orcid.org URL and returns
// the canonical https://orcid.org/ form.
func NormalizeORCID(raw string) (any, error) {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "https://orcid.org/")
	id = strings.TrimPrefix(id, "http://orcid.org/")
	id = strings.TrimPrefix(id, "orcid.org/")
	if !orcidPattern.MatchString(id) {
		return nil, invalid("orcid", "expected an ORCID iD like 0000-0002-1825-0097, got %q", raw)
	}
	return "https://orcid.org/" + id, nil
}

var rorPattern = regexp.MustCompile(`^0[a-z0-9]{6}\d{2}$`)

// NormalizeROR accepts a bare ROR identifier or a full ror.org URL and
// returns the canonical https://ror.org/ form.
func NormalizeROR(raw string) (any, error) {
	id := strings.TrimSpace(raw)
	id = strings.TrimPrefix(id, "https://ror.org/")
	id = strings.TrimPrefix(id, "http://ror.org/")
	id = strings.TrimPrefix(id, "ror.org/")
	if !rorPattern.MatchString(id) {
		return nil, invalid("ror", "expected a ROR identifier like 03yrm5c26, got %q", raw)
	}
	return "https://ror.org/" + id, nil
}

// NormalizeEWKT ensures spatial input carries an SRID prefix, defaulting to
// WGS 84 when the user supplied bare WKT.
func NormalizeEWKT(raw string) (any, error) {
	wkt := strings.TrimSpace(raw)
	if wkt == "" {
		return nil, invalid("spatial", "must not be empty")
	}
	if strings.HasPrefix(strings.ToUpper(wkt), "SRID=") {
		return wkt, nil
	}
	return "SRID=4326;" + wkt, nil
}
