// Package capcode loads the capcode-to-unit mapping table and resolves raw
// decoder capcodes against it.
//
// The table file is semicolon-delimited CSV, one record per line:
//
//	capcode;service;province;region;unit[;priority]
//
// Lookups never fail: most P2000 traffic has no matching capcode and still
// renders with the unknown sentinel. The Store holder swaps complete table
// snapshots atomically, so concurrent readers observe either the old or the
// new table, never a mix.
package capcode

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/errors"
)

// capcodeWidth is the canonical zero-filled address width used by P2000.
const capcodeWidth = 7

// Record is one row of the capcode table. Immutable once loaded.
type Record struct {
	Capcode      string         // canonical 7-digit form
	RawService   string         // service column verbatim (e.g. "Brandweer")
	Province     string
	Region       string
	Unit         string         // unit/alias column (e.g. "Fire Station 1")
	Service      alert.Service  // derived from RawService and Unit keywords
	PriorityHint alert.Priority // optional default priority column, "-" if absent
}

// ColorClass returns the display class for the record's service.
func (r Record) ColorClass() string {
	return ServiceColor(r.Service)
}

// ServiceColor maps a service to its display class.
func ServiceColor(s alert.Service) string {
	switch s {
	case alert.ServiceTraumaHeli:
		return alert.ColorTrauma
	case alert.ServiceFire:
		return alert.ColorFire
	case alert.ServiceAmbulance:
		return alert.ColorAmbulance
	case alert.ServicePolice:
		return alert.ColorPolice
	default:
		return alert.ColorNeutral
	}
}

// classifyService derives the service enum from the table's service and unit
// columns. Trauma keywords in the unit win over the service column so that
// heli teams filed under an ambulance region still classify as trauma.
func classifyService(rawService, unit string) alert.Service {
	service := strings.ToLower(rawService)
	unitLower := strings.ToLower(unit)

	for _, kw := range []string{"trauma", "heli", "lifeliner", "mmt"} {
		if strings.Contains(unitLower, kw) {
			return alert.ServiceTraumaHeli
		}
	}
	switch {
	case strings.Contains(service, "brandweer"):
		return alert.ServiceFire
	case strings.Contains(service, "ambulance"),
		strings.Contains(service, "rav"),
		strings.Contains(service, "ghor"):
		return alert.ServiceAmbulance
	case strings.Contains(service, "politie"),
		strings.Contains(service, "kmar"):
		return alert.ServicePolice
	default:
		return alert.ServiceUnknown
	}
}

// Table is an immutable snapshot of the capcode mapping.
type Table struct {
	records map[string]Record
	skipped int
}

// Load reads the capcode table from a semicolon-delimited CSV file. A missing
// or unreadable file is fatal; malformed rows are skipped and counted.
func Load(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WrapFatal(err, "Table", "Load", fmt.Sprintf("open capcode file %s", path))
	}
	defer func() { _ = f.Close() }()

	table, err := parse(f)
	if err != nil {
		return nil, errors.WrapFatal(err, "Table", "Load", fmt.Sprintf("read capcode file %s", path))
	}
	return table, nil
}

func parse(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.Comma = ';'
	reader.FieldsPerRecord = -1 // column count varies, validated per row
	reader.LazyQuotes = true

	table := &Table{records: make(map[string]Record)}

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A row the CSV reader itself rejects is skippable, not fatal.
			table.skipped++
			continue
		}

		rec, ok := parseRow(row)
		if !ok {
			table.skipped++
			continue
		}
		table.records[rec.Capcode] = rec
	}

	return table, nil
}

func parseRow(row []string) (Record, bool) {
	if len(row) < 5 {
		return Record{}, false
	}

	code := strings.TrimSpace(row[0])
	if code == "" || !isDigits(code) || len(code) > capcodeWidth {
		return Record{}, false
	}
	code = zfill(code)

	rec := Record{
		Capcode:      code,
		RawService:   strings.TrimSpace(row[1]),
		Province:     strings.TrimSpace(row[2]),
		Region:       strings.TrimSpace(row[3]),
		Unit:         strings.TrimSpace(row[4]),
		PriorityHint: alert.PriorityUnknown,
	}
	rec.Service = classifyService(rec.RawService, rec.Unit)

	if len(row) >= 6 {
		if hint := normalizePriorityHint(row[5]); hint != "" {
			rec.PriorityHint = hint
		}
	}

	return rec, true
}

func normalizePriorityHint(raw string) alert.Priority {
	switch strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(raw), " ", "")) {
	case "A0":
		return alert.PriorityA0
	case "A1":
		return alert.PriorityA1
	case "A2":
		return alert.PriorityA2
	case "B1":
		return alert.PriorityB1
	case "B2":
		return alert.PriorityB2
	case "P1":
		return alert.PriorityP1
	case "TEST":
		return alert.PriorityTest
	default:
		return ""
	}
}

// Candidates returns the canonical capcode forms a raw decoder token may
// resolve to: long addresses (9+ digits) match on their last 7 digits,
// 7-digit codes match as-is. Non-numeric tokens yield nothing.
func Candidates(raw string) []string {
	raw = strings.TrimSpace(raw)
	if !isDigits(raw) {
		return nil
	}

	var out []string
	if len(raw) >= 9 {
		out = append(out, raw[len(raw)-capcodeWidth:])
	}
	if len(raw) == capcodeWidth {
		out = append(out, raw)
	} else if len(raw) < capcodeWidth && raw != "" {
		out = append(out, zfill(raw))
	}
	return out
}

// Lookup resolves a raw decoder capcode to a table record. The boolean
// reports whether any candidate form matched; a miss is not an error.
func (t *Table) Lookup(raw string) (Record, bool) {
	for _, candidate := range Candidates(raw) {
		if rec, ok := t.records[candidate]; ok {
			return rec, true
		}
	}
	return Record{Service: alert.ServiceUnknown, PriorityHint: alert.PriorityUnknown}, false
}

// Len returns the number of loaded records.
func (t *Table) Len() int {
	return len(t.records)
}

// Skipped returns the number of malformed rows dropped during load.
func (t *Table) Skipped() int {
	return t.skipped
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func zfill(s string) string {
	if len(s) >= capcodeWidth {
		return s
	}
	return strings.Repeat("0", capcodeWidth-len(s)) + s
}

// Store holds the current table snapshot and supports atomic reload.
// In-flight readers keep the snapshot they already obtained.
type Store struct {
	current atomic.Pointer[Table]
	path    string
}

// NewStore loads the table from path and returns a holder for it.
func NewStore(path string) (*Store, error) {
	table, err := Load(path)
	if err != nil {
		return nil, err
	}

	s := &Store{path: path}
	s.current.Store(table)
	return s, nil
}

// Table returns the current table snapshot.
func (s *Store) Table() *Table {
	return s.current.Load()
}

// Reload re-reads the table file and swaps the snapshot atomically. On
// failure the previous snapshot stays in place.
func (s *Store) Reload() error {
	table, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(table)
	return nil
}
