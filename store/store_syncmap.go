// Implements an in-memory kv store using sync.Map. Nothing survives a
// restart, so the indexer falls back to the on-chain event counter.
package store

import (
	"encoding/json"
	"fmt"

	"github.com/philippgille/gokv"
	"github.com/philippgille/gokv/syncmap"
)

type SyncMapStoreOptions struct {
	Codec string `json:"codec"`
}

func NewSyncMapStore(optionsJSON string) (gokv.Store, error) {
	options := syncmap.DefaultOptions
	if optionsJSON != "" {
		var parsed SyncMapStoreOptions
		if err := json.Unmarshal([]byte(optionsJSON), &parsed); err != nil {
			return nil, fmt.Errorf("json.Unmarshal err: %w", err)
		}
		codec, err := getStoreCodec(parsed.Codec)
		if err != nil {
			return nil, fmt.Errorf("getStoreCodec err: %w", err)
		}
		if codec != nil {
			options.Codec = codec
		}
	}
	return syncmap.NewStore(options), nil
}
