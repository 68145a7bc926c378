// Implements a remote kv store using an AWS s3 bucket, so several nodes can
// share cached proofs
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/philippgille/gokv"
	"github.com/philippgille/gokv/s3"
)

// S3StoreOptions leave the credentials empty to use the default AWS chain
// (env, shared config, instance role).
type S3StoreOptions struct {
	BucketName             string `json:"bucket_name"`
	Region                 string `json:"region"`
	Endpoint               string `json:"endpoint"`
	AWSAccessKeyID         string `json:"aws_access_key_id"`
	AWSSecretAccessKey     string `json:"aws_secret_access_key"`
	UsePathStyleAddressing bool   `json:"use_path_style_addressing"`
	Codec                  string `json:"codec"`
}

func NewS3Store(optionsJSON string) (gokv.Store, error) {
	if optionsJSON == "" {
		return nil, errors.New("options cannot be empty, need at least bucket_name")
	}
	var options S3StoreOptions
	err := json.Unmarshal([]byte(optionsJSON), &options)
	if err != nil {
		return nil, fmt.Errorf("json.Unmarshal err: %w", err)
	}
	if options.BucketName == "" {
		return nil, errors.New("bucket_name is required")
	}
	codec, err := getStoreCodec(options.Codec)
	if err != nil {
		return nil, fmt.Errorf("getStoreCodec err: %w", err)
	}
	store, err := s3.NewClient(s3.Options{
		BucketName:             options.BucketName,
		Region:                 options.Region,
		CustomEndpoint:         options.Endpoint,
		AWSaccessKeyID:         os.ExpandEnv(options.AWSAccessKeyID),
		AWSsecretAccessKey:     os.ExpandEnv(options.AWSSecretAccessKey),
		UsePathStyleAddressing: options.UsePathStyleAddressing,
		Codec:                  codec,
	})
	if err != nil {
		return nil, fmt.Errorf("s3.NewClient err: %w", err)
	}
	return store, nil
}
