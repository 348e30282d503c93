package vulkan

import (
	"image"

	vk "github.com/goki/vulkan"
	"golang.org/x/image/draw"
)

type VulkanImage struct {
	Handle vk.Image
	View   vk.ImageView
	Width  uint32
	Height uint32
	Format vk.Format
	Layout vk.ImageLayout
}

// formatTexelSize lists the bytes per texel of the formats images may be
// uploaded with.
var formatTexelSize = map[vk.Format]uint32{
	vk.FormatR8Unorm:       1,
	vk.FormatR8g8Unorm:     2,
	vk.FormatR8g8b8a8Unorm: 4,
	vk.FormatR8g8b8a8Srgb:  4,
	vk.FormatB8g8r8a8Unorm: 4,
	vk.FormatB8g8r8a8Srgb:  4,
	vk.FormatR32Uint:       4,
	vk.FormatR32Sfloat:     4,
}

// ImagePixelsFromPicture converts any picture into tightly packed RGBA8
// texels of the given size, scaling when the bounds differ.
func ImagePixelsFromPicture(src image.Image, width, height uint32) []byte {
	dst := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	if src.Bounds().Dx() == int(width) && src.Bounds().Dy() == int(height) {
		draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	} else {
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
	}
	return dst.Pix
}

func createImageView(context *VulkanContext, img vk.Image, format vk.Format, aspect vk.ImageAspectFlagBits) (vk.ImageView, error) {
	viewInfo := vk.ImageViewCreateInfo{
		SType:            vk.StructureTypeImageViewCreateInfo,
		Image:            img,
		ViewType:         vk.ImageViewType2d,
		Format:           format,
		SubresourceRange: subresourceRange(aspect),
	}
	view, res := context.Driver.CreateImageView(context.LogicalDevice(), &viewInfo)
	if res != vk.Success {
		return nil, vkError(res, "creating image view")
	}
	return view, nil
}
