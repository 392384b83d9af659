/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package caf

import (
	"github.com/sourceryinstitute/libcaf-go/descriptor"
	"github.com/sourceryinstitute/libcaf-go/refchain"
	"github.com/sourceryinstitute/libcaf-go/stat"
	"github.com/sourceryinstitute/libcaf-go/token"
)

// Get implements get(): read t's data on image into dst.
func (img *Image) Get(t *token.Token, image int, dst, srcShape *descriptor.Descriptor, out *stat.Out) error {
	return img.engine.Get(t, image, dst, srcShape, out)
}

// Send implements send(): blocking write of src into t's data on image.
func (img *Image) Send(t *token.Token, image int, dstShape, src *descriptor.Descriptor, out *stat.Out) error {
	return img.engine.Send(t, image, dstShape, src, out)
}

// SendAsync implements the non-blocking send() form queued for the next
// sync_memory/sync_all/sync_images/sync_team flush (unlock does not flush).
func (img *Image) SendAsync(t *token.Token, image int, dstShape, src *descriptor.Descriptor, out *stat.Out) error {
	return img.engine.SendAsync(t, image, dstShape, src, out)
}

// SendGet implements sendget(): image-to-image copy without materializing
// the payload in this image's own memory.
func (img *Image) SendGet(dstTok *token.Token, dstImage int, dstShape *descriptor.Descriptor, srcTok *token.Token, srcImage int, srcShape *descriptor.Descriptor, out *stat.Out) error {
	return img.engine.SendGet(dstTok, dstImage, dstShape, srcTok, srcImage, srcShape, out)
}

// GetByRef implements get_by_ref().
func (img *Image) GetByRef(t *token.Token, image int, dst *descriptor.Descriptor, refs []*refchain.Ref, out *stat.Out) error {
	return img.interp.GetByRef(t, image, dst, refs, out)
}

// SendByRef implements send_by_ref().
func (img *Image) SendByRef(t *token.Token, image int, src *descriptor.Descriptor, refs []*refchain.Ref, out *stat.Out) error {
	return img.interp.SendByRef(t, image, src, refs, out)
}

// SendGetByRef implements sendget_by_ref().
func (img *Image) SendGetByRef(dstTok *token.Token, dstImage int, dstRefs []*refchain.Ref, srcTok *token.Token, srcImage int, srcRefs []*refchain.Ref, out *stat.Out) error {
	return img.interp.SendGetByRef(dstTok, dstImage, dstRefs, srcTok, srcImage, srcRefs, out)
}

// IsPresent implements is_present(): whether t's payload on image has
// been allocated. The target image's own presence filter is consulted
// directly first — a pure optimization available because every image in
// this runtime lives in the same process, the single-process analogue of
// a locally cached replica of a remote presence bit — and only a filter
// hit pays for the round trip through that image's registered presence
// predicate, which is authoritative.
func (img *Image) IsPresent(image int, t *token.Token, out *stat.Out) (bool, error) {
	target := img.rt.Images[image]
	if !target.tokens.MightBePresent(t) {
		out.Ok()
		return false, nil
	}
	addData := encodeHandleOffset(t.Window, t.Offset)
	present, err := img.rfuncs.IsPresentOnRemote(image, target.presentHash, addData)
	if err != nil {
		return false, out.Set(stat.Failure, err)
	}
	out.Ok()
	return present, nil
}
