package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "tabdelta "+Version+" (built "+BuildDate+")", String())

	Commit = "abc123"
	defer func() { Commit = "" }()
	assert.Contains(t, String(), "(abc123, built ")
	assert.Equal(t, Version, GetVersion())
	assert.Equal(t, BuildDate, GetBuildDate())
}
