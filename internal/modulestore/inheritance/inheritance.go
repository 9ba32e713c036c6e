// Package inheritance computes effective field values over a structure
// snapshot. Inherited values are never written back onto blocks; they are
// folded from the parent chain on every read.
package inheritance

import (
	"github.com/yungbote/splitstore/internal/domain/keys"
	types "github.com/yungbote/splitstore/internal/domain/modulestore"
	"github.com/yungbote/splitstore/internal/modulestore/xfields"
)

// Source says which rule produced a resolved value.
type Source int

const (
	SourceNone Source = iota
	SourceExplicit
	SourceInherited
	SourceBlockDefault
	SourceDeclaredDefault
)

func (s Source) String() string {
	switch s {
	case SourceExplicit:
		return "explicit"
	case SourceInherited:
		return "inherited"
	case SourceBlockDefault:
		return "block_default"
	case SourceDeclaredDefault:
		return "declared_default"
	default:
		return "none"
	}
}

type Resolution struct {
	Value  any
	Source Source
	// From is the ancestor that supplied an inherited value.
	From keys.BlockKey
}

// ParentMap maps each child to one parent. Blocks are visited in sorted key
// order, so with several parents the greatest parent key wins every time.
func ParentMap(s *types.Structure) map[keys.BlockKey]keys.BlockKey {
	out := make(map[keys.BlockKey]keys.BlockKey, len(s.Blocks))
	for _, k := range s.SortedKeys() {
		for _, c := range s.Blocks[k].Children {
			out[c] = k
		}
	}
	return out
}

// AllParents lists every block whose children include child, in sorted key order.
func AllParents(s *types.Structure, child keys.BlockKey) []keys.BlockKey {
	var out []keys.BlockKey
	for _, k := range s.SortedKeys() {
		if s.Blocks[k].HasChild(child) {
			out = append(out, k)
		}
	}
	return out
}

type Resolver struct {
	s       *types.Structure
	reg     *xfields.Registry
	parents map[keys.BlockKey]keys.BlockKey
}

func NewResolver(s *types.Structure, reg *xfields.Registry) *Resolver {
	return &Resolver{s: s, reg: reg, parents: ParentMap(s)}
}

func (r *Resolver) Structure() *types.Structure { return r.s }

func (r *Resolver) Parent(k keys.BlockKey) (keys.BlockKey, bool) {
	p, ok := r.parents[k]
	return p, ok
}

// Ancestors returns the parent chain of k, nearest first.
func (r *Resolver) Ancestors(k keys.BlockKey) []keys.BlockKey {
	var out []keys.BlockKey
	seen := map[keys.BlockKey]bool{k: true}
	for {
		p, ok := r.parents[k]
		if !ok || seen[p] {
			return out
		}
		seen[p] = true
		out = append(out, p)
		k = p
	}
}

// Resolve returns the effective settings-scope value of field on block k:
// the block's explicit value, then (for inheritable fields) the nearest
// ancestor's explicit value, then the block's defaults, then the declared default.
func (r *Resolver) Resolve(k keys.BlockKey, field string) Resolution {
	b, ok := r.s.Blocks[k]
	if !ok {
		return Resolution{}
	}
	return r.ResolveData(k, b, field)
}

// ResolveData resolves field for block k using b in place of the stored
// block data, so unsaved edits are honoured while ancestors come from the snapshot.
func (r *Resolver) ResolveData(k keys.BlockKey, b *types.BlockData, field string) Resolution {
	if v, ok := b.Fields[field]; ok {
		return Resolution{Value: v, Source: SourceExplicit}
	}
	if xfields.IsInheritable(field) {
		for _, a := range r.Ancestors(k) {
			if v, ok := r.s.Blocks[a].Fields[field]; ok {
				return Resolution{Value: v, Source: SourceInherited, From: a}
			}
		}
	}
	if v, ok := b.Defaults[field]; ok {
		return Resolution{Value: v, Source: SourceBlockDefault}
	}
	bt := r.reg.Lookup(b.BlockType)
	if bt.Declared(field) {
		return Resolution{Value: types.CloneValue(bt.Field(field).Default), Source: SourceDeclaredDefault}
	}
	return Resolution{}
}

// Inherited returns the inheritable values k picks up from its ancestors,
// ignoring anything k sets itself.
func (r *Resolver) Inherited(k keys.BlockKey) map[string]any {
	out := map[string]any{}
	ancestors := r.Ancestors(k)
	for _, name := range xfields.InheritableFields() {
		for _, a := range ancestors {
			if v, ok := r.s.Blocks[a].Fields[name]; ok {
				out[name] = v
				break
			}
		}
	}
	return out
}
