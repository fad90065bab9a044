package persona

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrNoPersona = errors.New("no persona found")

const (
	CharactersDir = "chars"
	UsersDir      = "users"
)

// CachePath returns the directory holding the personas of the given kind
// (CharactersDir or UsersDir).
func CachePath(subdir string) (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "unable to find cache directory")
	}
	return filepath.Join(dir, "moon", subdir), nil
}

// LoadFile loads a single persona file. JSON files are read as character
// cards when they declare the chara_card_v2 spec and as basic personas
// otherwise, YAML files as basic personas.
func LoadFile(path string) (Persona, Kind, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		var header struct {
			Spec string `json:"spec"`
		}
		if err := json.Unmarshal(data, &header); err != nil {
			return nil, "", errors.Wrapf(err, "could not parse %s", path)
		}
		if header.Spec != "" {
			card, err := LoadCardFromJSON(data)
			if err != nil {
				return nil, "", errors.Wrapf(err, "could not load %s", path)
			}
			return card, KindCard, nil
		}
		basic, err := LoadBasicFromJSON(data)
		if err != nil {
			return nil, "", errors.Wrapf(err, "could not load %s", path)
		}
		return basic, KindBasic, nil

	case ".yaml", ".yml":
		basic, err := LoadBasicFromYAML(data)
		if err != nil {
			return nil, "", errors.Wrapf(err, "could not load %s", path)
		}
		return basic, KindBasic, nil
	}

	return nil, "", errors.Errorf("unsupported persona file %s", path)
}

// LoadProfile loads the persona stored in dir, the first supported file
// found in it.
func LoadProfile(dir string) (*Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		p, kind, err := LoadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Debug().Err(err).Str("file", entry.Name()).Msg("skipping file")
			continue
		}
		return &Profile{
			Persona:      p,
			Kind:         kind,
			Path:         dir,
			ModifiedTime: modifiedTime(dir),
		}, nil
	}

	return nil, errors.Wrapf(ErrNoPersona, "in %s", dir)
}

// LoadDir loads every persona stored in a subdirectory of dir. Directories
// without a valid persona are skipped.
func LoadDir(dir string) ([]*Profile, error) {
	log.Trace().Str("dir", dir).Msg("loading personas")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	ret := []*Profile{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		p, err := LoadProfile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Warn().Err(err).Str("dir", entry.Name()).Msg("could not load persona")
			continue
		}
		ret = append(ret, p)
	}
	return ret, nil
}

// MostRecent loads the persona of the most recently modified subdirectory
// of dir.
func MostRecent(dir string) (*Profile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	mostRecent := ""
	var mostRecentTime time.Time
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		t := modifiedTime(path)
		if mostRecent == "" || !t.Before(mostRecentTime) {
			mostRecent = path
			mostRecentTime = t
		}
	}
	if mostRecent == "" {
		return nil, errors.Wrapf(ErrNoPersona, "in %s", dir)
	}

	return LoadProfile(mostRecent)
}

// Touch sets the modification time of path to now.
func Touch(path string) error {
	now := time.Now()
	return os.Chtimes(path, now, now)
}

func modifiedTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
