// On-disk kv stores: one file per key, or an embedded BadgerDB
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/celer-network/goutils/log"
	"github.com/philippgille/gokv"
	"github.com/philippgille/gokv/badgerdb"
	"github.com/philippgille/gokv/encoding"
	"github.com/philippgille/gokv/file"
)

// LocalOptions configures the file and badgerdb backends
type LocalOptions struct {
	Dir string `json:"dir"`
	// file backend only, gokv defaults to ".json"
	FilenameExtension string `json:"file_name_extension"`
	Codec             string `json:"codec"`

	codec encoding.Codec
}

// parseLocalOptions decodes optionsJSON and turns Dir into an absolute path
// after expanding environment variables. An empty Dir takes defaultDir.
func parseLocalOptions(optionsJSON, defaultDir string) (*LocalOptions, error) {
	options := &LocalOptions{}
	if optionsJSON != "" {
		if err := json.Unmarshal([]byte(optionsJSON), options); err != nil {
			return nil, fmt.Errorf("json.Unmarshal err: %w", err)
		}
	}
	codec, err := getStoreCodec(options.Codec)
	if err != nil {
		return nil, fmt.Errorf("getStoreCodec err: %w", err)
	}
	options.codec = codec
	dir := os.ExpandEnv(options.Dir)
	if dir == "" {
		dir = defaultDir
	}
	options.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve store dir %q err: %w", dir, err)
	}
	return options, nil
}

func NewFileStore(options *LocalOptions) (gokv.Store, error) {
	fo := file.Options{Directory: options.Dir, Codec: options.codec}
	if options.FilenameExtension != "" {
		ext := options.FilenameExtension
		fo.FilenameExtension = &ext
	}
	store, err := file.NewStore(fo)
	if err != nil {
		return nil, fmt.Errorf("file.NewStore err: %w", err)
	}
	log.Infof("file store opened at %s", options.Dir)
	return store, nil
}

func NewBadgerDBStore(options *LocalOptions) (gokv.Store, error) {
	store, err := badgerdb.NewStore(badgerdb.Options{Dir: options.Dir, Codec: options.codec})
	if err != nil {
		return nil, fmt.Errorf("badgerdb.NewStore err: %w", err)
	}
	log.Infof("badgerdb store opened at %s", options.Dir)
	return store, nil
}
