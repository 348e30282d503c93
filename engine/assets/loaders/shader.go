package loaders

import (
	"encoding/binary"
	"os"

	"github.com/cockroachdb/errors"
)

// SPIRVMagic is the first word of every SPIR-V module.
const SPIRVMagic uint32 = 0x07230203

// Magic plus version, generator, bound and schema.
const spirvHeaderWords = 5

type ShaderLoader struct{}

// Load reads a compiled SPIR-V module. The returned Data is a []uint32 in
// host order, ready for vkCreateShaderModule.
func (sl *ShaderLoader) Load(path string) (*Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	code, err := DecodeSPIRV(data)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %s", path)
	}
	return &Resource{
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     code,
	}, nil
}

// DecodeSPIRV validates the header and converts the module into words. Both
// little and big endian files are accepted.
func DecodeSPIRV(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, errors.Newf("size %d is not a multiple of 4", len(data))
	}
	if len(data) < spirvHeaderWords*4 {
		return nil, errors.Newf("%d bytes is shorter than a SPIR-V header", len(data))
	}
	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(data) == SPIRVMagic:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(data) == SPIRVMagic:
		order = binary.BigEndian
	default:
		return nil, errors.Newf("bad magic %#08x", binary.LittleEndian.Uint32(data))
	}
	code := make([]uint32, len(data)/4)
	for i := range code {
		code[i] = order.Uint32(data[i*4:])
	}
	return code, nil
}
