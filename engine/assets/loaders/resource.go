package loaders

type Resource struct {
	Name     string
	FullPath string
	DataSize uint64
	// []uint32 for shaders, image.Image for textures.
	Data interface{}
}
