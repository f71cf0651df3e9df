// Package alert defines the structured alert produced by the classification
// pipeline, plus the filter predicates subscribers attach to their feeds.
package alert

import "strings"

// Service identifies the emergency service a capcode belongs to.
type Service string

// Known services, derived from the capcode table's service and unit columns.
const (
	ServiceFire       Service = "fire"
	ServiceAmbulance  Service = "ambulance"
	ServicePolice     Service = "police"
	ServiceTraumaHeli Service = "trauma"
	ServiceUnknown    Service = "unknown"
)

// Priority is the dispatch urgency token embedded in the message body.
type Priority string

// Priority tokens in precedence order as they appear in P2000 traffic.
const (
	PriorityA0      Priority = "A0"
	PriorityA1      Priority = "A1"
	PriorityA2      Priority = "A2"
	PriorityB1      Priority = "B1"
	PriorityB2      Priority = "B2"
	PriorityP1      Priority = "P1"
	PriorityTest    Priority = "TEST"
	PriorityUnknown Priority = "-"
)

// ColorClass is the display class a viewer uses to render the alert.
// Values follow the original monitor's CSS classes.
const (
	ColorFire      = "dienst-brandweer"
	ColorAmbulance = "dienst-ambulance"
	ColorPolice    = "dienst-politie"
	ColorTrauma    = "dienst-trauma"
	ColorNeutral   = "dienst-onbekend"
)

// Alert is one classified pager message. The Store assigns ID at append time;
// every other field is fixed by the classifier. Alerts are immutable after
// creation - the JSON form doubles as the wire and snapshot format, and
// unknown fields are ignored on snapshot load for forward compatibility.
type Alert struct {
	ID             uint64   `json:"id"`
	Timestamp      int64    `json:"time_utc"`    // unix ms, arrival time
	DecoderTime    string   `json:"time_local"`  // decoder-reported local time, verbatim
	Protocol       string   `json:"protocol"`    // FLEX, POCSAG or unknown
	Capcodes       []string `json:"capcodes"`    // ordered as decoded
	Body           string   `json:"text"`
	Service        Service  `json:"service"`
	Priority       Priority `json:"prio"`
	ColorClass     string   `json:"color_class"`
	MatchedAliases []string `json:"matched_aliases,omitempty"`
}

// Filter is a pure predicate over alerts, evaluated independently per
// subscriber per alert. Filters must not retain or mutate the alert.
type Filter func(Alert) bool

// MatchAll returns a filter that accepts every alert.
func MatchAll() Filter {
	return func(Alert) bool { return true }
}

// BodyContains returns a filter matching alerts whose body contains substr,
// case-insensitively. An empty substring matches everything.
func BodyContains(substr string) Filter {
	if substr == "" {
		return MatchAll()
	}
	needle := strings.ToLower(substr)
	return func(a Alert) bool {
		return strings.Contains(strings.ToLower(a.Body), needle)
	}
}

// ServiceIs returns a filter matching alerts classified to the given service.
func ServiceIs(s Service) Filter {
	return func(a Alert) bool { return a.Service == s }
}
