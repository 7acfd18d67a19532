// Package minio stores tiles and manifests in MinIO or any other S3-compatible
// object store (Ceph, Garage, SeaweedFS) using the MinIO client.
//
// # Basic Usage
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "videos", "tasm/")
//	db, err := tasm.Open(ctx, tasm.WithBlobStore(store))
//
// Tile reads are ranged GETs, so wrapping the store in a blobstore.CachingStore
// (tasm.WithBlockCache) is recommended.
package minio
