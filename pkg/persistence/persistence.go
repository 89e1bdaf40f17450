package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/pkg/errors"
)

// Service hands out named stores. Each store owns one document.
type Service interface {
	NewStore(prefix, id, tag string) Store
}

// Store persists one JSON document.
type Store interface {
	Save(data any) error
	Load(data any) error
}

// ErrNotExists is returned by Load when nothing was ever saved.
var ErrNotExists = errors.New("persistence: data does not exist")

// JSONFileService keeps each store in its own JSON file under baseDir.
// Saves go through a temp-file rename, so a crash mid-write leaves the
// previous document intact.
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService creates a service rooted at baseDir.
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

// NewStore creates the store keyed by prefix:id:tag.
func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &jsonFileStore{service: s, key: prefix + ":" + id + ":" + tag}
}

type jsonFileStore struct {
	service *JSONFileService
	key     string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *jsonFileStore) filePath() string {
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.service.baseDir, safe+".json")
}

func (s *jsonFileStore) Save(data any) error {
	if err := os.MkdirAll(s.service.baseDir, 0o755); err != nil {
		return errors.Wrap(err, "persistence: mkdir")
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "persistence: marshal %s", s.key)
	}
	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return errors.Wrapf(err, "persistence: write %s", s.key)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "persistence: rename %s", s.key)
	}
	return nil
}

func (s *jsonFileStore) Load(data any) error {
	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return errors.Wrapf(err, "persistence: read %s", s.key)
	}
	if err := json.Unmarshal(b, data); err != nil {
		return errors.Wrapf(err, "persistence: unmarshal %s", s.key)
	}
	return nil
}
