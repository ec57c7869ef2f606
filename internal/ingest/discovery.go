package ingest

import (
	"context"
	"fmt"
	"sort"

	billy "github.com/go-git/go-billy/v5"

	"github.com/agentic-research/loadstone/api"
	"github.com/agentic-research/loadstone/internal/catalog"
)

// Discover lists every file under location (recursively for directories),
// sorted by canonical path, and filters out files whose fingerprint is
// already in the ledger set. An empty result is not an error; a location
// that cannot be listed is api.ErrSourceUnavailable.
func Discover(ctx context.Context, fsys billy.Filesystem, location string, ingested map[string]bool) ([]catalog.SourceFile, error) {
	info, err := fsys.Stat(location)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", api.ErrSourceUnavailable, location, err)
	}

	var all []catalog.SourceFile
	if !info.IsDir() {
		all = append(all, catalog.SourceFile{
			Path:    location,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	} else {
		all, err = walk(ctx, fsys, location)
		if err != nil {
			return nil, err
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Path < all[j].Path })

	fresh := all[:0]
	for _, f := range all {
		if !ingested[f.Fingerprint()] {
			fresh = append(fresh, f)
		}
	}
	return fresh, nil
}

func walk(ctx context.Context, fsys billy.Filesystem, dir string) ([]catalog.SourceFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := fsys.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", api.ErrSourceUnavailable, dir, err)
	}

	var files []catalog.SourceFile
	for _, entry := range entries {
		path := fsys.Join(dir, entry.Name())
		if entry.IsDir() {
			sub, err := walk(ctx, fsys, path)
			if err != nil {
				return nil, err
			}
			files = append(files, sub...)
			continue
		}
		files = append(files, catalog.SourceFile{
			Path:    path,
			Size:    entry.Size(),
			ModTime: entry.ModTime(),
		})
	}
	return files, nil
}
