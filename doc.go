// Package tasm provides an embedded tiled video storage manager for Go.
//
// TASM stores videos as independently decodable tiles and answers spatial queries
// ("every car between frames 100 and 200") by decoding only the tiles that contain
// matching objects. Tile layouts can be uniform grids or shaped around the
// objects found so far, and a regret tracker re-tiles videos whose queries keep
// decoding far more pixels than they return.
//
// # Quick Start
//
//	ctx := context.Background()
//	db, _ := tasm.Open(ctx, tasm.WithRoot("./data"))
//	defer db.Close()
//
//	_ = db.StoreWithUniformLayout(ctx, "traffic.y4m", "traffic", 2, 2)
//	_ = db.AddMetadata(ctx, "traffic", "car", 12, 40, 30, 120, 90)
//
//	cur, _ := db.Select(ctx, "traffic", "traffic", "car", tasm.WithFrameRange(0, 300))
//	defer cur.Close()
//	for {
//	    img, err := cur.Next()
//	    if err != nil || img.IsEmpty() {
//	        break
//	    }
//	    // img.Pixels holds the object crop of img.Frame.
//	}
//
// # Layouts
//
// Store ingests a video as a single tile. StoreWithUniformLayout splits every
// frame into a rows x cols grid. StoreWithNonuniformLayout builds tiles around
// the detections of one label, grouped into windows of frames.
//
// # Query Modes
//
// Select yields one object crop per detection, SelectTiles one decoded tile per
// distinct (frame, tile) pair containing a detection, and SelectFrames one full
// frame per distinct frame containing a detection. Results are not ordered.
// Cursors are pull based and signal exhaustion with an empty Image, not an error.
//
// # Regret Based Tiling
//
//	db.ActivateRegretBasedTiling("traffic", "traffic")
//	// ... queries ...
//	report, _ := db.RetileBasedOnRegret(ctx, "traffic")
//
// Retiling is copy-on-write: cursors opened before a retile keep reading the old
// tiles until they are closed.
//
// # Storage
//
// By default detections live in a SQLite database (labels.db) and tiles in a
// local directory (resources/). WithInMemoryIndex keeps detections in memory and
// WithBlobStore places tiles in any blobstore.BlobStore, for example MinIO or S3.
package tasm
