package tablefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tailscale/hujson"
)

const (
	// InfoFile holds a table's metadata, relative to the table directory.
	InfoFile = "table.info"

	// LockFile is the flock target, relative to the table directory. It is
	// created on first open and never replaced.
	LockFile = "table.lock"
)

var (
	// ErrNoTable indicates the location has no info file.
	ErrNoTable = errors.New("tablefile: no table")

	// ErrExists indicates [Engine.Create] found an existing table.
	ErrExists = errors.New("tablefile: table exists")

	// ErrCorrupt indicates the info file could not be parsed.
	//
	// Recovery: restore the file or recreate the table.
	ErrCorrupt = errors.New("tablefile: corrupt info file")

	// ErrDowngrade indicates Reopen was asked to drop write access. Write
	// access is only given up by closing.
	ErrDowngrade = errors.New("tablefile: cannot downgrade a writable table")
)

// Info is the content of [InfoFile].
//
// Version increments each time a writable open is closed.
type Info struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   uint64    `json:"version"`
}

func encodeInfo(info Info) ([]byte, error) {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding info: %w", err)
	}

	return append(data, '\n'), nil
}

// decodeInfo accepts JSONC so hand-edited info files with comments or
// trailing commas still load.
func decodeInfo(data []byte) (Info, error) {
	std, err := hujson.Standardize(data)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	var info Info

	err = json.Unmarshal(std, &info)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}

	if info.Name == "" {
		return Info{}, fmt.Errorf("%w: missing name", ErrCorrupt)
	}

	return info, nil
}
