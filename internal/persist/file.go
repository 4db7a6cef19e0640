package persist

import (
	"path/filepath"

	"github.com/rs/zerolog/log"

	atomicio "github.com/sawpanic/tradegate/internal/io"
)

// FileStore keeps one JSON file per key under a state directory, written
// atomically so a crash mid-save never corrupts the record.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

func (fs *FileStore) path(key string) string {
	return filepath.Join(fs.dir, key+".json")
}

func (fs *FileStore) Load(key string, v any) (bool, error) {
	found, err := atomicio.ReadJSON(fs.path(key), v)
	if err != nil {
		// Corrupt state degrades to the zero value rather than refusing
		// to start.
		log.Warn().Err(err).Str("key", key).Msg("state record unreadable, using defaults")
		return false, nil
	}
	return found, nil
}

func (fs *FileStore) Save(key string, v any) error {
	return atomicio.WriteJSONAtomic(fs.path(key), v)
}
