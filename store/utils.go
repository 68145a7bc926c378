package store

import (
	"fmt"

	"github.com/philippgille/gokv"
	"github.com/philippgille/gokv/badgerdb"
	"github.com/philippgille/gokv/encoding"
	"github.com/philippgille/gokv/file"
)

const (
	TypeSyncMap  = "syncmap"
	TypeFile     = "file"
	TypeBadgerDB = "badgerdb"
	TypeS3       = "s3"
)

func getStoreCodec(codec string) (encoding.Codec, error) {
	switch codec {
	case "":
		// Allowed, as gokv will pick its default Codec
		return nil, nil
	case "json":
		return encoding.JSON, nil
	case "gob":
		return encoding.Gob, nil
	default:
		return nil, fmt.Errorf("unsupported codec %s", codec)
	}
}

// InitStore opens the local kv store holding the indexer cursor and cached
// proofs. persistenceOptions is a backend specific JSON document. Directories
// of the on-disk backends may reference environment variables and are
// resolved against the working directory at open time.
func InitStore(persistenceType string, persistenceOptions string) (gokv.Store, error) {
	switch persistenceType {
	case "", TypeSyncMap:
		return NewSyncMapStore(persistenceOptions)
	case TypeFile:
		options, err := parseLocalOptions(persistenceOptions, file.DefaultOptions.Directory)
		if err != nil {
			return nil, err
		}
		return NewFileStore(options)
	case TypeBadgerDB:
		options, err := parseLocalOptions(persistenceOptions, badgerdb.DefaultOptions.Dir)
		if err != nil {
			return nil, err
		}
		return NewBadgerDBStore(options)
	case TypeS3:
		return NewS3Store(persistenceOptions)
	default:
		return nil, fmt.Errorf("unsupported persistence type %s", persistenceType)
	}
}
