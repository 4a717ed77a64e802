package stations

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i474232898/pws-ingest/internal/weather"
)

const sample = `
stations:
  - id: farm-north
    code: FN01
    type: davis
    timezone: America/Chicago
    sampling_interval: 15
    leaf_wetness_threshold: 10
    secrets:
      api_key: ${PWS_TEST_DAVIS_KEY}
      api_secret: s3cret
      sn: "117000"
  - id: orchard
    type: ZENTRA
    timezone: America/Los_Angeles
    sampling_interval: 5
    secrets:
      token: abc
      sn: z6-01
`

func TestParseAndLookup(t *testing.T) {
	t.Setenv("PWS_TEST_DAVIS_KEY", "from-env")

	reg, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, reg.List(), 2)

	byID, err := reg.LoadStationConfig("farm-north")
	require.NoError(t, err)
	byCode, err := reg.LoadStationConfig("FN01")
	require.NoError(t, err)
	require.Equal(t, byID, byCode)

	require.Equal(t, weather.StationDavis, byID.Type)
	require.Equal(t, "from-env", byID.Secret("api_key"))
	require.Equal(t, "117000", byID.Secret("sn"))
	require.NotNil(t, byID.LeafWetnessThreshold)
	require.Equal(t, 10.0, *byID.LeafWetnessThreshold)

	orchard, err := reg.LoadStationConfig("orchard")
	require.NoError(t, err)
	require.Equal(t, weather.StationZentra, orchard.Type)
	require.Equal(t, 5, orchard.SamplingInterval)

	_, err = reg.LoadStationConfig("nope")
	require.ErrorIs(t, err, weather.ErrStationNotFound)
}

func TestListIsACopy(t *testing.T) {
	reg, err := Parse([]byte(sample))
	require.NoError(t, err)

	list := reg.List()
	list[0].ID = "changed"
	require.Equal(t, "farm-north", reg.List()[0].ID)
}

func TestParseRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"bad yaml":       "stations: [",
		"unknown type":   "stations:\n  - {id: a, type: acme, timezone: UTC}\n",
		"bad timezone":   "stations:\n  - {id: a, type: davis, timezone: Mars/Base}\n",
		"bad sampling":   "stations:\n  - {id: a, type: davis, timezone: UTC, sampling_interval: 7}\n",
		"missing id":     "stations:\n  - {type: davis, timezone: UTC}\n",
		"duplicate id":   "stations:\n  - {id: a, type: davis, timezone: UTC}\n  - {id: a, type: onset, timezone: UTC}\n",
		"duplicate code": "stations:\n  - {id: a, code: X, type: davis, timezone: UTC}\n  - {id: b, code: X, type: onset, timezone: UTC}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			var mce *weather.MalformedConfigError
			require.ErrorAs(t, err, &mce)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stations.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	reg, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, reg.List(), 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
