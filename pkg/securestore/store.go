package securestore

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
)

// Store persists a single sealed blob on disk. Writes are atomic from the
// caller's point of view: the new blob is written to a temporary file,
// flushed, and only then moved over the previous one, so a crash in between
// never leaves a partially written store readable as valid.
// Writes are serialized relative to reads of the same blob. Concurrent
// access from multiple processes is not supported.
type Store struct {
	mtx sync.RWMutex

	path   string
	params ScryptParams
}

// NewStore returns a store writing its sealed blob to datadir/filename,
// creating the data directory if needed.
func NewStore(datadir, filename string, params ScryptParams) (*Store, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(datadir, 0700); err != nil {
		return nil, err
	}
	return &Store{
		path:   filepath.Join(datadir, filename),
		params: params,
	}, nil
}

// Persist atomically replaces the persisted blob with the given one.
func (s *Store) Persist(blob []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.writeAtomic(blob)
}

// Load returns the persisted sealed blob, or ErrStoreNotFound if nothing
// has been persisted yet.
func (s *Store) Load() ([]byte, error) {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return s.read()
}

// SealAndPersist seals the plaintext under the passphrase and persists the
// resulting blob.
func (s *Store) SealAndPersist(plaintext, passphrase []byte) error {
	blob, err := Seal(plaintext, passphrase, s.params)
	if err != nil {
		return err
	}
	return s.Persist(blob)
}

// LoadAndOpen loads the persisted blob and opens it with the passphrase.
func (s *Store) LoadAndOpen(passphrase []byte) ([]byte, error) {
	blob, err := s.Load()
	if err != nil {
		return nil, err
	}
	return Open(blob, passphrase, s.params)
}

// ChangePassphrase re-encrypts the persisted plaintext under a new
// passphrase without altering any other state.
func (s *Store) ChangePassphrase(oldPassphrase, newPassphrase []byte) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	blob, err := s.read()
	if err != nil {
		return err
	}
	plaintext, err := Open(blob, oldPassphrase, s.params)
	if err != nil {
		return err
	}
	defer zero(plaintext)

	newBlob, err := Seal(plaintext, newPassphrase, s.params)
	if err != nil {
		return err
	}
	return s.writeAtomic(newBlob)
}

// Exists returns whether a blob has been persisted.
func (s *Store) Exists() bool {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	_, err := os.Stat(s.path)
	return err == nil
}

func (s *Store) read() ([]byte, error) {
	blob, err := ioutil.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrStoreNotFound
		}
		return nil, err
	}
	return blob, nil
}

func (s *Store) writeAtomic(blob []byte) error {
	dir := filepath.Dir(s.path)
	tmpFile, err := ioutil.TempFile(dir, ".sealed-*")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(blob); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return err
	}

	// sync the directory entry as well so the rename survives a crash
	dirFile, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer dirFile.Close()
	return dirFile.Sync()
}
