package alert

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchAll(t *testing.T) {
	f := MatchAll()
	assert.True(t, f(Alert{}))
	assert.True(t, f(Alert{Body: "anything"}))
}

func TestBodyContains(t *testing.T) {
	f := BodyContains("beemster")

	assert.True(t, f(Alert{Body: "A1 Brand in Beemster centrum"}))
	assert.True(t, f(Alert{Body: "BEEMSTER"}))
	assert.False(t, f(Alert{Body: "A1 Brand in Dordrecht"}))
	assert.False(t, f(Alert{}))
}

func TestBodyContainsEmptyMatchesAll(t *testing.T) {
	f := BodyContains("")
	assert.True(t, f(Alert{Body: ""}))
	assert.True(t, f(Alert{Body: "whatever"}))
}

func TestServiceIs(t *testing.T) {
	f := ServiceIs(ServiceFire)
	assert.True(t, f(Alert{Service: ServiceFire}))
	assert.False(t, f(Alert{Service: ServiceAmbulance}))
	assert.False(t, f(Alert{Service: ServiceUnknown}))
}
