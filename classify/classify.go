// Package classify enriches parsed pager messages into alerts: it resolves
// capcodes against the table, picks the service and display color, and
// extracts the dispatch priority from the message body.
package classify

import (
	"regexp"
	"strings"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/capcode"
	"github.com/aoi-validoku/p2000/parser"
	"github.com/aoi-validoku/p2000/pkg/timestamp"
)

// priorityPattern matches the dispatch urgency tokens used in Dutch P2000
// traffic. "P 1" with an embedded space is a common decoder artifact and
// normalizes to "P1".
var priorityPattern = regexp.MustCompile(`(?i)\b(A0|A1|A2|B1|B2|P\s*1|TEST)\b`)

// Priority extracts the leftmost priority token from a message body,
// normalized to upper case. Bodies without a token yield the unknown
// sentinel.
func Priority(body string) alert.Priority {
	match := priorityPattern.FindString(body)
	if match == "" {
		return alert.PriorityUnknown
	}
	normalized := strings.ToUpper(strings.ReplaceAll(match, " ", ""))
	return alert.Priority(normalized)
}

// TableProvider yields the current capcode table snapshot. *capcode.Store
// satisfies it; tests substitute a fixed table.
type TableProvider interface {
	Table() *capcode.Table
}

// Classifier turns parsed messages into classified alerts. Safe for
// concurrent use; each call reads one consistent table snapshot.
type Classifier struct {
	tables TableProvider
}

// New returns a classifier backed by the given table provider.
func New(tables TableProvider) *Classifier {
	return &Classifier{tables: tables}
}

// Classify builds an alert from a parsed message. The alert's ID is zero;
// the store assigns it at append time.
//
// Service and color come from the first capcode that matches the table, so a
// group page keeps the identity of its primary address. Every match
// contributes its unit name to MatchedAliases in capcode order. When the
// body carries no priority token, the first match's priority hint applies.
func (c *Classifier) Classify(msg parser.Message) alert.Alert {
	table := c.tables.Table()

	service := alert.ServiceUnknown
	hint := alert.PriorityUnknown
	var aliases []string
	matched := false

	for _, code := range msg.Capcodes {
		rec, ok := table.Lookup(code)
		if !ok {
			continue
		}
		if !matched {
			service = rec.Service
			hint = rec.PriorityHint
			matched = true
		}
		if rec.Unit != "" {
			aliases = append(aliases, rec.Unit)
		}
	}

	prio := Priority(msg.Body)
	if prio == alert.PriorityUnknown {
		prio = hint
	}

	arrived := msg.Timestamp
	if arrived == 0 {
		arrived = timestamp.Now()
	}

	return alert.Alert{
		Timestamp:      arrived,
		DecoderTime:    msg.DecoderTime,
		Protocol:       msg.Protocol,
		Capcodes:       msg.Capcodes,
		Body:           msg.Body,
		Service:        service,
		Priority:       prio,
		ColorClass:     capcode.ServiceColor(service),
		MatchedAliases: aliases,
	}
}
