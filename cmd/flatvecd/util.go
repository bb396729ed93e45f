package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/flatvec"
	"github.com/hupe1980/flatvec/blobstore"
	minioblob "github.com/hupe1980/flatvec/blobstore/minio"
	s3blob "github.com/hupe1980/flatvec/blobstore/s3"
	"github.com/hupe1980/flatvec/config"
	"github.com/hupe1980/flatvec/embed"
	"github.com/hupe1980/flatvec/registry"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level, err := cfg.LogLevel()
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func storeOptions(cfg *config.Config, logger *slog.Logger) ([]flatvec.Option, error) {
	durability, err := cfg.Durability()
	if err != nil {
		return nil, err
	}
	compression, err := cfg.Compression()
	if err != nil {
		return nil, err
	}
	return []flatvec.Option{
		flatvec.WithLogger(flatvec.NewLogger(logger.Handler())),
		flatvec.WithDurability(durability),
		flatvec.WithCompression(compression),
		flatvec.WithCompactionRateLimit(cfg.Store.CompactionRateLimit),
	}, nil
}

// storePath resolves a store argument: a registry name maps into the data
// directory, anything containing a path separator or ".wal" is used as is.
func storePath(cfg *config.Config, arg string) string {
	if registry.ValidName(arg) {
		return filepath.Join(cfg.DataDir, arg+registry.Ext)
	}
	return arg
}

func newEmbedder(cfg *config.Config) embed.Embedder {
	if cfg.Embedding.APIKey == "" {
		return nil
	}
	return embed.NewOpenAI(cfg.Embedding.APIKey,
		embed.WithModel(cfg.Embedding.Model),
		embed.WithBaseURL(cfg.Embedding.BaseURL),
		embed.WithDimension(cfg.Embedding.Dimension),
		embed.WithMaxBatch(cfg.Embedding.MaxBatch),
		embed.WithRateLimit(cfg.Embedding.RateLimit, cfg.Embedding.Burst),
	)
}

// newBlobStore returns the configured backup target, or nil when backups
// are disabled.
func newBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	b := cfg.Backup
	switch b.Type {
	case "":
		return nil, nil
	case "local":
		return blobstore.NewLocalStore(b.Dir), nil
	case "s3":
		loadOpts := []func(*awsconfig.LoadOptions) error{}
		if b.Region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(b.Region))
		}
		if b.AccessKey != "" {
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(b.AccessKey, b.SecretKey, ""),
			))
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
			if b.Endpoint != "" {
				o.BaseEndpoint = aws.String(b.Endpoint)
			}
			o.UsePathStyle = b.PathStyle
		})
		return s3blob.NewStore(client, b.Bucket, b.Prefix), nil
	case "minio":
		client, err := minio.New(b.Endpoint, &minio.Options{
			Creds:  miniocreds.NewStaticV4(b.AccessKey, b.SecretKey, ""),
			Secure: b.UseSSL,
			Region: b.Region,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		store := minioblob.NewStore(client, b.Bucket, b.Prefix)
		if err := store.EnsureBucket(ctx, b.Region); err != nil {
			return nil, fmt.Errorf("minio bucket %s: %w", b.Bucket, err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown backup type %q", b.Type)
	}
}
