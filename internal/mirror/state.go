package mirror

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"salvi/app/internal/wiki"
)

// Epoch is the high-water mark assumed before the first successful poll.
var Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// State persists the high-water mark of the last poll as fractional Unix
// seconds in a plain text file.
type State struct {
	path string
}

// NewState binds the state to a file path.
func NewState(path string) *State {
	return &State{path: path}
}

// Load returns the stored mark, or Epoch when the file is missing or unreadable.
func (s *State) Load() (time.Time, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Epoch, nil
		}
		return Epoch, eris.Wrapf(err, "reading sync state %s", s.path)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		return Epoch, nil
	}
	return wiki.FromUnixSeconds(seconds), nil
}

// Save replaces the stored mark.
func (s *State) Save(mark time.Time) error {
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return eris.Wrapf(err, "creating sync state directory %s", dir)
		}
	}

	tmp := s.path + ".tmp"
	value := strconv.FormatFloat(wiki.UnixSeconds(mark), 'f', -1, 64)
	if err := os.WriteFile(tmp, []byte(value+"\n"), 0o644); err != nil {
		return eris.Wrapf(err, "writing sync state %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return eris.Wrapf(err, "replacing sync state %s", s.path)
	}
	return nil
}
