package classify

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoi-validoku/p2000/alert"
	"github.com/aoi-validoku/p2000/capcode"
	"github.com/aoi-validoku/p2000/parser"
)

const testTable = `0301101;Brandweer;Noord-Holland;Zaanstreek-Waterland;Blusgroep Purmerend
0301102;Brandweer;Noord-Holland;Zaanstreek-Waterland;Blusgroep Edam
0120901;Ambulance;Noord-Holland;RAV Amsterdam;Ambulancepost Oost
0923993;Ambulance;Groningen;RAV Groningen;Lifeliner 4
1420059;Politie;Utrecht;Midden-Nederland;Basisteam Stad
0700296;Brandweer;Gelderland;Gelderland-Midden;Monitorcode;TEST
`

type fixedTable struct {
	table *capcode.Table
}

func (f fixedTable) Table() *capcode.Table { return f.table }

func newClassifier(t *testing.T) *Classifier {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capcodes.csv")
	require.NoError(t, os.WriteFile(path, []byte(testTable), 0o644))
	table, err := capcode.Load(path)
	require.NoError(t, err)
	return New(fixedTable{table: table})
}

func TestPriority(t *testing.T) {
	tests := []struct {
		body string
		want alert.Priority
	}{
		{"A1 13101 Rit 87312 Beemsterstraat Purmerend", alert.PriorityA1},
		{"a2 ambu 17-101 rotterdam", alert.PriorityA2},
		{"P 1 BDH-01 Gebouwbrand Grote Kerk", alert.PriorityP1},
		{"Prio 1 zonder token B2 nakomend", alert.PriorityB2},
		{"TEST oproep monitorcode", alert.PriorityTest},
		{"GRIP 1 opschaling regio", alert.PriorityUnknown},
		{"A100 is geen prioriteit", alert.PriorityUnknown},
		{"", alert.PriorityUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, Priority(tt.body))
		})
	}
}

func TestPriorityLeftmostWins(t *testing.T) {
	assert.Equal(t, alert.PriorityA2, Priority("A2 gevolgd door A1 nakomend"))
}

func TestClassifySingleCapcode(t *testing.T) {
	c := newClassifier(t)

	a := c.Classify(parser.Message{
		Protocol:    parser.ProtocolFLEX,
		DecoderTime: "2026-08-25 10:14:02",
		Capcodes:    []string{"000301101"},
		Body:        "P 1 Gebouwbrand Grote Kerk Purmerend",
	})

	assert.Equal(t, alert.ServiceFire, a.Service)
	assert.Equal(t, alert.ColorFire, a.ColorClass)
	assert.Equal(t, alert.PriorityP1, a.Priority)
	assert.Equal(t, []string{"Blusgroep Purmerend"}, a.MatchedAliases)
	assert.Equal(t, "2026-08-25 10:14:02", a.DecoderTime)
	assert.Zero(t, a.ID)
	assert.NotZero(t, a.Timestamp)
}

func TestClassifyGroupFirstMatchWins(t *testing.T) {
	c := newClassifier(t)

	a := c.Classify(parser.Message{
		Capcodes: []string{"0009999999", "000120901", "000301102"},
		Body:     "A1 Assistentie ambulance",
	})

	// The unmatched leading capcode is skipped; the ambulance record is the
	// first hit and decides service and color.
	assert.Equal(t, alert.ServiceAmbulance, a.Service)
	assert.Equal(t, alert.ColorAmbulance, a.ColorClass)
	assert.Equal(t, []string{"Ambulancepost Oost", "Blusgroep Edam"}, a.MatchedAliases)
	assert.Equal(t, []string{"0009999999", "000120901", "000301102"}, a.Capcodes)
}

func TestClassifyTraumaHeli(t *testing.T) {
	c := newClassifier(t)

	a := c.Classify(parser.Message{
		Capcodes: []string{"000923993"},
		Body:     "A1 Lifeliner 4 inzet Groningen",
	})

	assert.Equal(t, alert.ServiceTraumaHeli, a.Service)
	assert.Equal(t, alert.ColorTrauma, a.ColorClass)
}

func TestClassifyNoMatches(t *testing.T) {
	c := newClassifier(t)

	a := c.Classify(parser.Message{
		Capcodes: []string{"7777777"},
		Body:     "Onbekende melding zonder prioriteit",
	})

	assert.Equal(t, alert.ServiceUnknown, a.Service)
	assert.Equal(t, alert.ColorNeutral, a.ColorClass)
	assert.Equal(t, alert.PriorityUnknown, a.Priority)
	assert.Empty(t, a.MatchedAliases)
}

func TestClassifyPriorityHintFallback(t *testing.T) {
	c := newClassifier(t)

	a := c.Classify(parser.Message{
		Capcodes: []string{"000700296"},
		Body:     "Maandelijkse monitorproef",
	})
	assert.Equal(t, alert.PriorityTest, a.Priority)

	// A body token always beats the hint.
	a = c.Classify(parser.Message{
		Capcodes: []string{"000700296"},
		Body:     "A1 echte inzet via monitorcode",
	})
	assert.Equal(t, alert.PriorityA1, a.Priority)
}
