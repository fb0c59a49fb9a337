// Copyright 2025-2026, Tessera Labs, Inc.
// For license information, see https://github.com/tesseralabs/arbiter/blob/master/LICENSE.md

package proving

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/andybalholm/brotli"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pkg/errors"
	flag "github.com/spf13/pflag"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/tesseralabs/arbiter/protocol"
	"github.com/tesseralabs/arbiter/util/s3client"
)

// Proof artifacts are small; anything past this is a corrupt or hostile blob.
const maxArtifactSize = 32 << 20

type S3MirrorConfig struct {
	Enable    bool   `koanf:"enable"`
	AccessKey string `koanf:"access-key"`
	SecretKey string `koanf:"secret-key"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	KeyPrefix string `koanf:"key-prefix"`
}

var DefaultS3MirrorConfig = S3MirrorConfig{
	Enable:    false,
	KeyPrefix: "proofs/",
}

func (c *S3MirrorConfig) Validate() error {
	if c.Enable && c.Bucket == "" {
		return errors.New("artifact mirroring requires a bucket")
	}
	return nil
}

func S3MirrorConfigAddOptions(prefix string, f *flag.FlagSet) {
	f.Bool(prefix+".enable", DefaultS3MirrorConfig.Enable, "mirror proof artifacts to S3")
	f.String(prefix+".access-key", DefaultS3MirrorConfig.AccessKey, "S3 access key")
	f.String(prefix+".secret-key", DefaultS3MirrorConfig.SecretKey, "S3 secret key")
	f.String(prefix+".region", DefaultS3MirrorConfig.Region, "S3 region")
	f.String(prefix+".bucket", DefaultS3MirrorConfig.Bucket, "S3 bucket to mirror artifacts to")
	f.String(prefix+".key-prefix", DefaultS3MirrorConfig.KeyPrefix, "key prefix for mirrored artifacts")
}

// ArtifactStore keeps succeeded proof artifacts on disk, brotli-compressed
// and written atomically, keyed by game ID and claim hash. With mirroring
// enabled artifacts are also uploaded to S3 and pulled through on a local
// miss, so a validator restarted on a fresh disk does not re-prove games
// its fleet already solved.
type ArtifactStore struct {
	dir        string
	uploader   s3client.Uploader
	downloader s3client.Downloader
	bucket     string
	keyPrefix  string
}

// ArtifactStoreOption configures an ArtifactStore.
type ArtifactStoreOption func(*ArtifactStore)

// WithMirrorClient sets a custom mirror client (useful for testing).
func WithMirrorClient(uploader s3client.Uploader, downloader s3client.Downloader) ArtifactStoreOption {
	return func(s *ArtifactStore) {
		s.uploader = uploader
		s.downloader = downloader
	}
}

func NewArtifactStore(ctx context.Context, dir string, mirror S3MirrorConfig, opts ...ArtifactStoreOption) (*ArtifactStore, error) {
	if dir == "" {
		return nil, errors.New("artifact store requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	store := &ArtifactStore{
		dir:       dir,
		bucket:    mirror.Bucket,
		keyPrefix: mirror.KeyPrefix,
	}
	for _, opt := range opts {
		opt(store)
	}
	if mirror.Enable && store.uploader == nil {
		client, err := s3client.NewS3FullClient(ctx, mirror.AccessKey, mirror.SecretKey, mirror.Region)
		if err != nil {
			return nil, errors.Wrap(err, "creating artifact mirror client")
		}
		store.uploader = client
		store.downloader = client
	}
	return store, nil
}

func artifactName(gameID protocol.GameID, claimHash common.Hash) string {
	return fmt.Sprintf("%019d-%x.br", uint64(gameID), claimHash)
}

// Save compresses and stores an artifact. The local write is atomic; the
// mirror upload is best-effort, a failed upload never fails the save.
func (s *ArtifactStore) Save(ctx context.Context, gameID protocol.GameID, claimHash common.Hash, artifact []byte) error {
	if len(artifact) > maxArtifactSize {
		return errors.Errorf("artifact for game %v is %d bytes, exceeding the %d byte limit", gameID, len(artifact), maxArtifactSize)
	}
	var compressed bytes.Buffer
	writer := brotli.NewWriterLevel(&compressed, brotli.DefaultCompression)
	if _, err := writer.Write(artifact); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	name := artifactName(gameID, claimHash)
	if err := s.writeAtomic(name, compressed.Bytes()); err != nil {
		return err
	}

	if s.uploader != nil {
		_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.keyPrefix + name),
			Body:   bytes.NewReader(compressed.Bytes()),
		})
		if err != nil {
			log.Warn("proof artifact mirror upload failed", "game", gameID, "err", err)
		}
	}
	return nil
}

// Load returns a stored artifact, pulling through from the mirror when the
// local copy is missing.
func (s *ArtifactStore) Load(ctx context.Context, gameID protocol.GameID, claimHash common.Hash) ([]byte, error) {
	name := artifactName(gameID, claimHash)
	compressed, err := os.ReadFile(filepath.Join(s.dir, name))
	if os.IsNotExist(err) && s.downloader != nil {
		buf := manager.NewWriteAtBuffer([]byte{})
		if _, dlErr := s.downloader.Download(ctx, buf, &s3.GetObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.keyPrefix + name),
		}); dlErr != nil {
			return nil, errors.Wrapf(err, "artifact missing locally, mirror pull failed with %v", dlErr)
		}
		compressed = buf.Bytes()
		if writeErr := s.writeAtomic(name, compressed); writeErr != nil {
			log.Warn("persisting mirrored proof artifact failed", "game", gameID, "err", writeErr)
		}
	} else if err != nil {
		return nil, err
	}

	reader := io.LimitReader(brotli.NewReader(bytes.NewReader(compressed)), maxArtifactSize+1)
	artifact, err := io.ReadAll(reader)
	if err != nil {
		return nil, errors.Wrapf(err, "decompressing artifact for game %v", gameID)
	}
	if len(artifact) > maxArtifactSize {
		return nil, errors.Errorf("artifact for game %v exceeds the %d byte limit", gameID, maxArtifactSize)
	}
	return artifact, nil
}

func (s *ArtifactStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
