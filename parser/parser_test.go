package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoi-validoku/p2000/errors"
)

func TestParseFLEX(t *testing.T) {
	line := "FLEX|2026-08-25 10:14:02|1600/2/K/A|11.103|002029568|ALN|A1 13101 Rit 87312 Beemsterstraat Purmerend"

	msg, err := Parse(line)
	require.NoError(t, err)

	assert.Equal(t, ProtocolFLEX, msg.Protocol)
	assert.Equal(t, "2026-08-25 10:14:02", msg.DecoderTime)
	assert.Equal(t, []string{"002029568"}, msg.Capcodes)
	assert.Equal(t, "ALN", msg.MessageType)
	assert.Equal(t, "A1 13101 Rit 87312 Beemsterstraat Purmerend", msg.Body)
	assert.NotZero(t, msg.Timestamp)
}

func TestParseFLEXGroupCapcodes(t *testing.T) {
	line := "FLEX|2026-08-25 10:14:02|1600/2/K/A|11.103|000301101 000301102 000301111|ALN|P 1 BDH-01 Gebouwbrand Grote Kerk"

	msg, err := Parse(line)
	require.NoError(t, err)
	assert.Equal(t, []string{"000301101", "000301102", "000301111"}, msg.Capcodes)
}

func TestParseFLEXBodyWithPipes(t *testing.T) {
	line := "FLEX|2026-08-25 10:14:02|1600/2/K/A|11.103|002029568|ALN|A2 Ambu 17-101 | Rit 1234 | Rotterdam"

	msg, err := Parse(line)
	require.NoError(t, err)
	assert.Equal(t, "A2 Ambu 17-101 | Rit 1234 | Rotterdam", msg.Body)
}

func TestParseFLEXFailures(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		reason string
	}{
		{"too few fields", "FLEX|2026-08-25 10:14:02|1600/2/K/A|11.103|002029568|ALN", ReasonTooFewFields},
		{"no capcodes", "FLEX|2026-08-25 10:14:02|1600/2/K/A|11.103|   |ALN|text", ReasonNoCapcodes},
		{"empty body", "FLEX|2026-08-25 10:14:02|1600/2/K/A|11.103|002029568|ALN|   ", ReasonEmptyBody},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.line)
			require.Error(t, err)
			assert.Equal(t, tt.reason, Reason(err))
			assert.True(t, errors.Is(err, errors.ErrParsingFailed))
		})
	}
}

func TestParsePOCSAG(t *testing.T) {
	line := "POCSAG1200: Address: 2029568  Function: 0  Alpha:   A2 AMBU 18-118 Dordrecht Rit 5521"

	msg, err := Parse(line)
	require.NoError(t, err)

	assert.Equal(t, ProtocolPOCSAG, msg.Protocol)
	assert.Equal(t, []string{"2029568"}, msg.Capcodes)
	assert.Equal(t, "Alpha", msg.MessageType)
	assert.Equal(t, "A2 AMBU 18-118 Dordrecht Rit 5521", msg.Body)
}

func TestParsePOCSAGNumericOnly(t *testing.T) {
	_, err := Parse("POCSAG512: Address: 2029568  Function: 0  Numeric: 112112")
	require.Error(t, err)
	assert.Equal(t, ReasonEmptyBody, Reason(err))
}

func TestParseEmptyLine(t *testing.T) {
	_, err := Parse("   \t ")
	require.Error(t, err)
	assert.Equal(t, ReasonEmptyLine, Reason(err))
	assert.True(t, errors.Is(err, errors.ErrEmptyLine))
	assert.True(t, errors.IsInvalid(err))
}

func TestParseUnknownProtocol(t *testing.T) {
	_, err := Parse("garbled noise from the demodulator")
	require.Error(t, err)
	assert.Equal(t, ReasonUnknownProtocol, Reason(err))
}

func TestReasonNonParseError(t *testing.T) {
	assert.Equal(t, "", Reason(errors.ErrInvalidData))
}
