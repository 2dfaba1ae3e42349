package metadata

/** @brief Pixel formats understood by the backends. */
type Format uint32

const (
	FormatUnknown Format = iota
	FormatRGBA8Unorm
	FormatBGRA8Unorm
	FormatRGBA16Float
	FormatR11G11B10Float
	FormatR32Float
	FormatD32Float
	FormatD24UnormS8Uint
)

func (f Format) IsDepth() bool {
	return f == FormatD32Float || f == FormatD24UnormS8Uint
}

/**
 * @brief Represents various types of textures.
 */
type TextureType int

const (
	/** @brief A standard two-dimensional texture. */
	TextureType2d TextureType = iota
	/** @brief A cube texture, used for cubemaps. */
	TextureTypeCube
)

/** @brief Describes a sampled (and optionally storage) texture. */
type TextureDesc struct {
	TextureType TextureType
	Width       uint32
	Height      uint32
	MipLevels   uint32
	Format      Format
	/** @brief The texture can be bound as an unordered access view. */
	UnorderedAccess bool
}

/** @brief Describes a colour attachment that can also be sampled. */
type RenderTargetDesc struct {
	Width       uint32
	Height      uint32
	Format      Format
	SampleCount uint32
	ClearColour [4]float32
}

/** @brief Describes a depth/stencil attachment. */
type DepthTargetDesc struct {
	Width        uint32
	Height       uint32
	Format       Format
	ClearDepth   float32
	ClearStencil uint8
}
