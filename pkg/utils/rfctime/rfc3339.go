package rfctime

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Format of RFC3339 date-time with millisecond resolution, and a numeric offset ("+00:00", never "Z").
const RFC3339DateTimeFormat string = "2006-01-02T15:04:05.999-07:00"

// Format to parse RFC3339 date-time. It accepts "Z".
const RFC3339DateTimeFormatZ string = time.RFC3339Nano

// RFC3339 is a timestamp in API payloads.
//
// It is marshalled to JSON as RFC3339DateTimeFormat, so sub-millisecond parts are lost.
type RFC3339 time.Time

func (rfctime RFC3339) Time() time.Time {
	return time.Time(rfctime)
}

// Equal reports both are nil, or both are the same instant.
func (rfctime *RFC3339) Equal(other *RFC3339) bool {
	if (rfctime == nil) != (other == nil) {
		return false
	}
	return rfctime == nil || rfctime.Time().Equal(other.Time())
}

func (t RFC3339) String() string {
	return time.Time(t).Format(RFC3339DateTimeFormat)
}

func ParseRFC3339DateTime(s string) (RFC3339, error) {
	t, err := time.Parse(RFC3339DateTimeFormatZ, s)
	if err != nil {
		return *new(RFC3339), err
	}
	return RFC3339(t), nil
}

// implement encoding/json.Marshaller
func (t RFC3339) MarshalJSON() ([]byte, error) {
	return []byte(fmt.Sprintf(`"%s"`, t)), nil
}

// implement encoding/json.Unmarshaller. null is left as is.
func (t *RFC3339) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	ret, err := ParseRFC3339DateTime(s)
	if err != nil {
		return err
	}
	*t = ret
	return nil
}
