package model

import (
	"errors"
	"fmt"
)

// ErrDuplicateMutantID is returned when two sites share an activation key.
var ErrDuplicateMutantID = errors.New("duplicate mutant id")

// SchemaMapping groups the sites of one file by enclosing block. Blocks keep
// the order in which they were first seen; sites keep insertion order, which
// is the order of the generated conditional chain.
type SchemaMapping struct {
	File   Path
	order  []BlockHandle
	blocks map[BlockHandle][]MutationSite
	ids    map[string]struct{}
}

// NewSchemaMapping returns an empty mapping for file.
func NewSchemaMapping(file Path) *SchemaMapping {
	return &SchemaMapping{
		File:   file,
		blocks: make(map[BlockHandle][]MutationSite),
		ids:    make(map[string]struct{}),
	}
}

// Add registers site under its block.
func (s *SchemaMapping) Add(site MutationSite) error {
	if _, ok := s.ids[site.ID]; ok {
		return fmt.Errorf("%w: %s in %s", ErrDuplicateMutantID, site.ID, s.File)
	}

	s.ids[site.ID] = struct{}{}

	if _, ok := s.blocks[site.Block]; !ok {
		s.order = append(s.order, site.Block)
	}

	s.blocks[site.Block] = append(s.blocks[site.Block], site)

	return nil
}

// Blocks returns the blocks with at least one site, in first-seen order.
func (s *SchemaMapping) Blocks() []BlockHandle {
	out := make([]BlockHandle, len(s.order))
	copy(out, s.order)

	return out
}

// Sites returns the chain for block.
func (s *SchemaMapping) Sites(block BlockHandle) []MutationSite {
	sites := s.blocks[block]
	out := make([]MutationSite, len(sites))
	copy(out, sites)

	return out
}

// All returns every site, block by block.
func (s *SchemaMapping) All() []MutationSite {
	out := make([]MutationSite, 0, len(s.ids))
	for _, b := range s.order {
		out = append(out, s.blocks[b]...)
	}

	return out
}

// Len returns the number of registered sites.
func (s *SchemaMapping) Len() int {
	return len(s.ids)
}
