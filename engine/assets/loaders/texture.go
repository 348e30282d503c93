package loaders

import (
	"image"
	_ "image/png"
	"os"
)

type TextureLoader struct{}

// Load decodes a PNG file. Data is an image.Image.
func (tl *TextureLoader) Load(path string) (*Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, err
	}
	return &Resource{
		FullPath: path,
		DataSize: uint64(info.Size()),
		Data:     img,
	}, nil
}
