package model

import (
	"encoding/json"
)

const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

// SortItem is one entry of a sortBy request, e.g. domain:asc. Entries whose
// key or order fall outside the per-entity allow-list are silently dropped.
type SortItem struct {
	Key   string `json:"key"`
	Order string `json:"order"`
}

// ListOptions carries pagination, filtering and sorting for the list
// endpoints. Page is 1-based; a zero Page or PerPage disables pagination.
type ListOptions struct {
	Search  string
	Page    int
	PerPage int
	SortBy  []SortItem
}

// PaginatedResult is the wire shape of every paginated list endpoint.
type PaginatedResult struct {
	Rows  interface{} `json:"rows"`
	Count int64       `json:"count"`
}

// DumpItem is one DNS query event from the decrypted Pi-hole dump.
type DumpItem struct {
	ID        int64  `json:"id"`
	Client    string `json:"client"`
	Domain    string `json:"domain"`
	Timestamp int64  `json:"timestamp"`
}

// Analysis is the structured verdict returned by the enrichment service.
type Analysis struct {
	RiskLevel string `json:"risk_level"`
	Category  string `json:"category"`
	Owner     string `json:"owner"`
	Notes     string `json:"notes"`
}

// RiskValue maps the textual risk level onto the stored 1-3 scale. Anything
// outside the known levels maps to nil, stored as NULL.
func (a Analysis) RiskValue() *int {
	var v int
	switch a.RiskLevel {
	case "low":
		v = 1
	case "medium":
		v = 2
	case "high":
		v = 3
	default:
		return nil
	}
	return &v
}

// StringOrSlice accepts either a single JSON string or an array of strings.
type StringOrSlice []string

func (s *StringOrSlice) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = []string{one}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// AliasRequest sets the display alias of a client.
type AliasRequest struct {
	IPAddress string `json:"ipaddress"`
	Alias     string `json:"alias"`
}

// DomainFlagRequest toggles one of the domain booleans for one or many
// domains at once.
type DomainFlagRequest struct {
	Domains StringOrSlice `json:"domains"`
	Value   bool          `json:"value"`
}

// InterrogateRequest asks for an enrichment pass over one domain.
type InterrogateRequest struct {
	Domain string `json:"domain"`
}

type ErrorResponse struct {
	Status  int    `json:"status,omitempty"`
	Message string `json:"msg,omitempty"`
}
