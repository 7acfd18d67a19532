package store

import (
	"context"
	"strings"
)

// vacuum deletes tile directories and manifest versions that no published tile
// set references. They are left behind when a process stops between writing a
// tile set and releasing the one it replaced.
func (s *Store) vacuum(ctx context.Context) error {
	live := make(map[string]uint64, len(s.videos))
	liveDirs := make(map[string]struct{}, len(s.videos))
	for name, e := range s.videos {
		if ts := e.handle.Peek(); ts != nil {
			live[name] = ts.Version()
			liveDirs[ts.Manifest().TileDir] = struct{}{}
		}
	}

	videos, err := s.manifests.ListVideos(ctx)
	if err != nil {
		return err
	}
	manifests := 0
	for _, video := range videos {
		ids, err := s.manifests.ListVersions(ctx, video)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if cur, ok := live[video]; ok && cur == id {
				continue
			}
			if err := s.manifests.DeleteVersion(ctx, video, id); err != nil {
				return err
			}
			manifests++
		}
	}

	names, err := s.blobs.List(ctx, "")
	if err != nil {
		return err
	}
	chunks := 0
	for _, name := range names {
		parts := strings.SplitN(name, "/", 4)
		if len(parts) < 4 || parts[1] != tilesDir {
			continue
		}
		if _, ok := liveDirs[strings.Join(parts[:3], "/")]; ok {
			continue
		}
		if err := s.blobs.Delete(ctx, name); err != nil {
			return err
		}
		chunks++
	}

	if manifests > 0 || chunks > 0 {
		s.logger.Info("vacuumed unreferenced tiles", "manifests", manifests, "chunks", chunks)
	}
	return nil
}
