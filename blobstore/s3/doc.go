// Package s3 stores tiles and manifests in Amazon S3.
//
// # Usage
//
//	store, err := s3.New(ctx, "my-bucket",
//	    s3.WithPrefix("tasm/"),
//	    s3.WithRegion("us-east-1"),
//	)
//
//	db, err := tasm.Open(ctx, tasm.WithBlobStore(store))
//
// # Concurrent writers
//
// S3 offers no compare-and-swap, so two processes publishing a layout for the same
// video could overwrite each other's CURRENT pointer. DDBCommitStore moves every
// "<video>/CURRENT" pointer into DynamoDB and commits it with a conditional write.
//
// # Features
//
//   - Range reads for single frame decodes
//   - Multipart uploads for large tile chunks (feature/s3/manager)
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
package s3
