/*
 * Copyright (c) 2024, Sourcery Institute. All rights reserved.
 */
package caf

import "github.com/sourceryinstitute/libcaf-go/team"

// StoppedImages and FailedImages implement stopped_images()/failed_images().
func (img *Image) StoppedImages() []int { return img.rt.status.StoppedImages() }
func (img *Image) FailedImages() []int  { return img.rt.status.FailedImages() }

// ImageStatus implements image_status().
func (img *Image) ImageStatus(image int) team.ImageStatus { return img.rt.status.Get(image) }

// FailImage implements fail_image(): marks this image failed for every
// other image's subsequent sync_images/lock/event observation of it.
func (img *Image) FailImage() { img.rt.status.SetFailed(img.id) }
