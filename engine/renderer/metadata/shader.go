package metadata

/** @brief Pipeline stages a root parameter is visible to. */
type ShaderStage uint8

const (
	ShaderStageVertex   ShaderStage = 0x1
	ShaderStagePixel    ShaderStage = 0x2
	ShaderStageCompute  ShaderStage = 0x4
	ShaderStageAllGraphics          = ShaderStageVertex | ShaderStagePixel
)

/** @brief The kind of a root parameter. */
type RootParameterKind uint8

const (
	/** @brief A table of descriptors bound through a shader-visible heap. */
	RootParameterDescriptorTable RootParameterKind = iota
	/** @brief A constant buffer bound by GPU address. */
	RootParameterConstantBufferView
	/** @brief Inline 32-bit constants. */
	RootParameterConstants
)

/**
 * @brief A contiguous run of descriptors inside a table. BaseSlot is the
 * first shader register the run covers.
 */
type DescriptorRangeDesc struct {
	Type     DescriptorType
	BaseSlot uint32
	Count    uint32
}

/** @brief One entry of a binding layout. */
type RootParameterDesc struct {
	Kind       RootParameterKind
	Visibility ShaderStage
	/** @brief Only for descriptor tables. */
	Ranges []DescriptorRangeDesc
	/** @brief Register of a constant buffer view, or first register of constants. */
	Slot uint32
	/** @brief Only for inline constants. */
	Num32BitValues uint32
}

/** @brief The stage-agnostic description of the slots a pipeline expects. */
type BindingLayoutDesc struct {
	Name       string
	Parameters []RootParameterDesc
}

/** @brief Shader bytecode for one stage; compilation happens elsewhere. */
type ShaderBytecode struct {
	Stage ShaderStage
	Code  []byte
}

/** @brief Everything a backend needs to create a pipeline state object. */
type PipelineStateDesc struct {
	Name                string
	Compute             bool
	Layout              *BindingLayoutDesc
	Shaders             []ShaderBytecode
	RenderTargetFormats []Format
	DepthFormat         Format
	CullMode            FaceCullMode
	DepthTest           bool
	DepthWrite          bool
	SampleCount         uint32
}

/** @brief A compiled pipeline owned by the backend. */
type PipelineState interface {
	Name() string
	Destroy()
}
