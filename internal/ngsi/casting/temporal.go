package casting

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	ngsi "ngsi-gateway/internal/ngsi/domain"
)

// Wire layouts for the temporal kinds.
const (
	DateTimeLayout = "2006-01-02T15:04:05.000Z"
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04:05"
)

// DefaultDateTime is emitted when a device timestamp cannot be used.
const DefaultDateTime = "1970-01-01T00:00:00.000Z"

// Temporal is a UTC-normalised temporal value.
type Temporal struct {
	Kind Kind
	Time time.Time
}

// TypeTag is the JSON-LD @type of the value.
func (t Temporal) TypeTag() string {
	switch t.Kind {
	case KindDate:
		return "Date"
	case KindTime:
		return "Time"
	default:
		return "DateTime"
	}
}

// String formats the value for the wire.
func (t Temporal) String() string {
	switch t.Kind {
	case KindDate:
		return t.Time.UTC().Format(DateLayout)
	case KindTime:
		return t.Time.UTC().Format(TimeLayout)
	default:
		return t.Time.UTC().Format(DateTimeLayout)
	}
}

func (t Temporal) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

var inputLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	DateLayout,
	TimeLayout,
	"15:04",
}

// ParseTime parses the timestamp shapes devices send, normalising to UTC.
func ParseTime(value any) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v.UTC(), nil
	case Temporal:
		return v.Time.UTC(), nil
	case float64:
		return fromEpoch(int64(v))
	case int64:
		return fromEpoch(v)
	case int:
		return fromEpoch(int64(v))
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, ngsi.Wrap(ngsi.KindBadTimestamp, err, v.String())
		}
		return fromEpoch(n)
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, ngsi.NewError(ngsi.KindBadTimestamp, "empty timestamp")
		}
		for _, layout := range inputLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC(), nil
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromEpoch(n)
		}
		return time.Time{}, ngsi.NewError(ngsi.KindBadTimestamp, "unparseable timestamp "+strconv.Quote(s))
	default:
		return time.Time{}, ngsi.NewError(ngsi.KindBadTimestamp, "unsupported timestamp value")
	}
}

func fromEpoch(value int64) (time.Time, error) {
	if value <= 0 {
		return time.Time{}, ngsi.NewError(ngsi.KindBadTimestamp, "invalid epoch")
	}
	// Accept milliseconds or seconds.
	if value > 1_000_000_000_000 {
		return time.UnixMilli(value).UTC(), nil
	}
	return time.Unix(value, 0).UTC(), nil
}
