// Package testutil provides testing utilities for TASM.
//
// This package is intended for use in tests and benchmarks only.
// It generates synthetic videos whose pixels encode their own coordinates,
// so any crop or stitched frame can be verified exactly, and detection sets.
//
// # Synthetic Video
//
//	frames := testutil.Frames(model.FrameSize{Width: 64, Height: 48}, 120)
//	src := testutil.Source(t, size, 120, 30)
//	err := testutil.CheckRegion(img, frame) // every pixel matches Pixel(x, y, frame)
//
// # Detections
//
//	rng := testutil.NewRNG(seed)
//	dets := rng.Detections("cars", "car", size, 120, 3)
//	track := testutil.Track("birds", "bird", model.Frames(0, 150), model.R(10, 10, 30, 20), 1, 0)
package testutil
