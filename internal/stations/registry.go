// Package stations loads the station registry from a YAML file.
package stations

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/pws-ingest/internal/weather"
)

var validate = validator.New()

// fileFormat is the on-disk layout:
//
//	stations:
//	  - id: farm-north
//	    code: FN01
//	    type: davis
//	    timezone: America/Chicago
//	    sampling_interval: 15
//	    secrets:
//	      api_key: ${DAVIS_API_KEY}
type fileFormat struct {
	Stations []weather.StationConfig `yaml:"stations"`
}

// FileRegistry is an immutable weather.StationRegistry built from YAML.
type FileRegistry struct {
	ordered []weather.StationConfig
	byID    map[string]int
	byCode  map[string]int
}

// LoadFile reads and validates the registry at path.
func LoadFile(path string) (*FileRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stations file: %w", err)
	}
	return Parse(data)
}

// Parse validates every station entry. ${VAR} references in secrets are expanded from the
// environment so credentials can stay out of the file.
func Parse(data []byte) (*FileRegistry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &weather.MalformedConfigError{Reason: "parse stations file", Err: err}
	}

	r := &FileRegistry{
		byID:   make(map[string]int, len(f.Stations)),
		byCode: make(map[string]int, len(f.Stations)),
	}
	for i, s := range f.Stations {
		s, err := normalize(s)
		if err != nil {
			return nil, err
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, &weather.MalformedConfigError{StationID: s.ID, Reason: "duplicate station id"}
		}
		if s.Code != "" {
			if _, dup := r.byCode[s.Code]; dup {
				return nil, &weather.MalformedConfigError{StationID: s.ID, Reason: fmt.Sprintf("duplicate station code %q", s.Code)}
			}
			r.byCode[s.Code] = i
		}
		r.byID[s.ID] = i
		r.ordered = append(r.ordered, s)
	}
	return r, nil
}

func normalize(s weather.StationConfig) (weather.StationConfig, error) {
	s.ID = strings.TrimSpace(s.ID)
	s.Code = strings.TrimSpace(s.Code)
	if s.SamplingInterval == 0 {
		s.SamplingInterval = 15
	}

	typ, err := weather.ParseStationType(string(s.Type))
	if err != nil {
		return s, &weather.MalformedConfigError{StationID: s.ID, Reason: "bad station type", Err: err}
	}
	s.Type = typ

	if err := validate.Struct(s); err != nil {
		return s, &weather.MalformedConfigError{StationID: s.ID, Reason: "invalid station", Err: err}
	}

	secrets := make(map[string]string, len(s.Secrets))
	for k, v := range s.Secrets {
		secrets[k] = os.ExpandEnv(v)
	}
	s.Secrets = secrets
	return s, nil
}

// LoadStationConfig resolves a station by id first, then by code.
func (r *FileRegistry) LoadStationConfig(idOrCode string) (weather.StationConfig, error) {
	key := strings.TrimSpace(idOrCode)
	if i, ok := r.byID[key]; ok {
		return r.ordered[i], nil
	}
	if i, ok := r.byCode[key]; ok {
		return r.ordered[i], nil
	}
	return weather.StationConfig{}, fmt.Errorf("%w: %q", weather.ErrStationNotFound, idOrCode)
}

// List returns every station in file order.
func (r *FileRegistry) List() []weather.StationConfig {
	return append([]weather.StationConfig(nil), r.ordered...)
}

var _ weather.StationRegistry = (*FileRegistry)(nil)
