package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// ProviderAPI is the pseudo provider id carried by vendor action outcomes.
// One such outcome holds the results of every provider tested in that tick.
const ProviderAPI = "api"

// Status is an HTTP status code. Zero means no response was received.
type Status int

// errorMarker is the wire form of a zero Status.
const errorMarker = "ERROR"

// OK reports whether s is a 2xx status.
func (s Status) OK() bool { return s >= 200 && s < 300 }

// String implements fmt.Stringer.
func (s Status) String() string {
	if s == 0 {
		return errorMarker
	}
	return strconv.Itoa(int(s))
}

// MarshalJSON writes the status code as a number, or "ERROR" when unset.
func (s Status) MarshalJSON() ([]byte, error) {
	if s == 0 {
		return []byte(`"` + errorMarker + `"`), nil
	}
	return []byte(strconv.Itoa(int(s))), nil
}

// UnmarshalJSON accepts a number, a numeric string or the error marker.
func (s *Status) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*s = 0
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		if str == errorMarker || str == "" {
			*s = 0
			return nil
		}
		n, err := strconv.Atoi(str)
		if err != nil {
			return fmt.Errorf("types: invalid status %q", str)
		}
		*s = Status(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("types: invalid status %s", b)
	}
	*s = Status(n)
	return nil
}

// Outcome is the result of one probe. Outcomes are immutable once produced.
type Outcome struct {
	EndpointID   string   `json:"endpointId"`
	EndpointName string   `json:"endpointName"`
	Category     Category `json:"category,omitempty"`
	ProviderID   string   `json:"providerId"`
	Round        int      `json:"round"`

	URL        string `json:"url,omitempty"`
	Status     Status `json:"status"`
	StatusText string `json:"statusText,omitempty"`

	// Duration is the elapsed time in milliseconds from request send until
	// the response body was fully read.
	Duration int64 `json:"duration"`

	Success           bool              `json:"success"`
	BlockedBySecurity bool              `json:"blockedBySecurity,omitempty"`
	Headers           map[string]string `json:"headers,omitempty"`
	Error             string            `json:"error,omitempty"`

	IsAPITest  bool        `json:"isApiTest,omitempty"`
	APIResults []APIResult `json:"apiResults,omitempty"`

	CompletedAt time.Time `json:"completedAt"`
}

// Passed reports whether o counts towards a provider's pass total.
func (o Outcome) Passed() bool { return o.Success || o.BlockedBySecurity }

// APIResult is one provider's share of a vendor action outcome.
type APIResult struct {
	ProviderID string          `json:"providerId"`
	Success    bool            `json:"success"`
	Status     Status          `json:"status"`
	Error      string          `json:"error,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}
