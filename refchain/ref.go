// Package refchain implements the reference-chain interpreter (component
// E): get_by_ref/send_by_ref/sendget_by_ref walk a chain of Component and
// Array/StaticArray nodes describing a path into a derived-type coarray,
// such as `x[k]%comp%arr(i, 3:9:2)`, resolving it to a flat list of
// element offsets in the target image's window.
/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package refchain

import "github.com/sourceryinstitute/libcaf-go/token"

// DimMode selects how one Array dimension's subscript is interpreted.
type DimMode int32

const (
	ModeFull      DimMode = iota // ':' — the whole dimension
	ModeNone                     // dimension omitted from the ref — also the whole dimension
	ModeSingle                   // one subscript; reduces rank
	ModeRange                    // lower:upper:stride
	ModeOpenStart                // :upper — lower bound comes from the descriptor
	ModeOpenEnd                  // lower: — upper bound comes from the descriptor
	ModeVector                   // an explicit, possibly unordered, index list
)

// Subscript is one dimension's selector within an Array or StaticArray ref.
type Subscript struct {
	Mode          DimMode
	Lower, Upper  int64
	Stride        int64 // 0 treated as 1
	Vector        []int64
}

// RefKind distinguishes the three node shapes from the reference-chain
// grammar.
type RefKind int32

const (
	RefComponent RefKind = iota
	RefArray
	RefStaticArray
)

// Ref is one node of a reference chain. Component nodes either adjust the
// running byte offset in place (TokenSubOffset == 0) or cross into a
// component's own token, so every access after it addresses that token's
// own window; no separate global-window flag is kept
// (TokenSubOffset > 0, Component names that token). Array nodes read their
// shape from the current token's descriptor; StaticArray nodes carry their
// own extents because the underlying storage has no descriptor of its own.
type Ref struct {
	Kind RefKind

	ByteOffset     int64
	TokenSubOffset int64
	Component      *token.Token

	Subscripts    []Subscript
	StaticExtents []int64

	Next *Ref
}
