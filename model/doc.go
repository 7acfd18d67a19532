// Package model defines the core types shared by the tiled video store.
//
// # Geometry
//
//   - Rect: half-open pixel rectangle [X1,X2) x [Y1,Y2)
//   - FrameSize: width and height of a video frame
//   - FrameRange: half-open frame interval [Start,End)
//
// # Metadata
//
//   - Detection: a labeled bounding box on one frame, keyed by metadata id
//
// # Layouts
//
//   - Layout: the layout descriptor of a video, a sequence of Segments where
//     each segment partitions the frame into tiles for a frame range
//   - TileRegion: one tile rectangle together with its validity frame range
package model
