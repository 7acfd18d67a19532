package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/spf13/cobra"

	"github.com/hupe1980/tasm/blobstore"
	"github.com/hupe1980/tasm/blobstore/minio"
	"github.com/hupe1980/tasm/blobstore/s3"
)

// remoteFlags select a remote tile store instead of <root>/resources.
type remoteFlags struct {
	prefix string

	s3Bucket string
	s3Region string
	ddbTable string

	minioEndpoint  string
	minioBucket    string
	minioAccessKey string
	minioSecretKey string
	minioSecure    bool
}

func (r *remoteFlags) register(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVar(&r.prefix, "prefix", "tasm", "Key prefix in the remote bucket")
	f.StringVar(&r.s3Bucket, "s3-bucket", "", "Store tiles in this S3 bucket")
	f.StringVar(&r.s3Region, "s3-region", "", "AWS region of the S3 bucket")
	f.StringVar(&r.ddbTable, "ddb-table", "", "DynamoDB table for atomic layout publication on S3")
	f.StringVar(&r.minioEndpoint, "minio-endpoint", "", "Store tiles on this MinIO endpoint")
	f.StringVar(&r.minioBucket, "minio-bucket", "", "MinIO bucket")
	f.StringVar(&r.minioAccessKey, "minio-access-key", "", "MinIO access key")
	f.StringVar(&r.minioSecretKey, "minio-secret-key", "", "MinIO secret key")
	f.BoolVar(&r.minioSecure, "minio-secure", true, "Use TLS for MinIO")
}

// blobStore returns nil when no remote store is configured.
func (r *remoteFlags) blobStore(ctx context.Context) (blobstore.BlobStore, error) {
	switch {
	case r.s3Bucket != "" && r.minioEndpoint != "":
		return nil, fmt.Errorf("--s3-bucket and --minio-endpoint are mutually exclusive")
	case r.s3Bucket != "":
		st, err := s3.New(ctx, r.s3Bucket, s3.WithPrefix(r.prefix), s3.WithRegion(r.s3Region))
		if err != nil {
			return nil, err
		}
		if r.ddbTable == "" {
			return st, nil
		}
		var loadOpts []func(*config.LoadOptions) error
		if r.s3Region != "" {
			loadOpts = append(loadOpts, config.WithRegion(r.s3Region))
		}
		cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		baseURI := fmt.Sprintf("s3://%s/%s", r.s3Bucket, r.prefix)
		return s3.NewDDBCommitStore(st, dynamodb.NewFromConfig(cfg), r.ddbTable, baseURI), nil
	case r.minioEndpoint != "":
		if r.minioBucket == "" {
			return nil, fmt.Errorf("--minio-bucket is required")
		}
		client, err := miniogo.New(r.minioEndpoint, &miniogo.Options{
			Creds:  credentials.NewStaticV4(r.minioAccessKey, r.minioSecretKey, ""),
			Secure: r.minioSecure,
		})
		if err != nil {
			return nil, fmt.Errorf("minio client: %w", err)
		}
		return minio.NewStore(client, r.minioBucket, r.prefix), nil
	default:
		return nil, nil
	}
}
