package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestUnmarshalString(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`"15m"`), &d))
	assert.Equal(t, 15*time.Minute, d.Std())
}

func TestUnmarshalIntIsSeconds(t *testing.T) {
	var d Duration
	require.NoError(t, yaml.Unmarshal([]byte(`90`), &d))
	assert.Equal(t, 90*time.Second, d.Std())
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var d Duration
	assert.Error(t, yaml.Unmarshal([]byte(`"soon"`), &d))
}

func TestRoundTrip(t *testing.T) {
	out, err := yaml.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, "1m30s\n", string(out))
}
