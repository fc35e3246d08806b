// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package pakvfs

import (
	"context"

	"github.com/corbym/enfusionpak/internal/pakerr"
)

// Overlay presents a ranked list of Sources as one logical tree: Exists
// is the logical OR, ReadDir unions child names first-occurrence-wins,
// OpenFile/Metadata return the first hit. Unlike pak.RcFileEntry.Merge, a
// name collision across ranks is not an error — the higher-ranked source
// simply shadows the rest.
type Overlay struct {
	ranked []Source
}

// NewOverlay builds an Overlay from highest to lowest priority: ranked[0]
// wins any collision.
func NewOverlay(ranked ...Source) *Overlay {
	return &Overlay{ranked: ranked}
}

// Exists is true if any ranked source has path.
func (o *Overlay) Exists(path string) bool {
	for _, s := range o.ranked {
		if s.Exists(path) {
			return true
		}
	}
	return false
}

// Metadata returns the first ranked source's answer for path.
func (o *Overlay) Metadata(path string) (Metadata, error) {
	for _, s := range o.ranked {
		if m, err := s.Metadata(path); err == nil {
			return m, nil
		}
	}
	return Metadata{}, &pakerr.NotFoundError{Path: path}
}

// OpenFile returns the first ranked source's file at path.
func (o *Overlay) OpenFile(ctx context.Context, path string) (File, error) {
	var firstErr error
	for _, s := range o.ranked {
		f, err := s.OpenFile(ctx, path)
		if err == nil {
			return f, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, &pakerr.NotFoundError{Path: path}
}

// ReadDir unions child names across every ranked source that has path as
// a folder, preserving first-occurrence order by rank.
func (o *Overlay) ReadDir(path string) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	var anyFound bool
	for _, s := range o.ranked {
		children, err := s.ReadDir(path)
		if err != nil {
			continue
		}
		anyFound = true
		for _, n := range children {
			if !seen[n] {
				seen[n] = true
				names = append(names, n)
			}
		}
	}
	if !anyFound {
		return nil, &pakerr.NotFoundError{Path: path}
	}
	return names, nil
}
