package story

// Surface is one decoded or composited pixel grid. Whoever holds a Surface
// owns it and must call Release exactly once when done with it.
type Surface interface {
	Width() int
	Height() int
	Release()
	Released() bool
}

type Decoder interface {
	Decode(data []byte) (Surface, error)
}

type Composer interface {
	Compose(src Surface, mode LayoutMode) (Surface, error)
}

type Encoder interface {
	Encode(img Surface) ([]byte, error)
}

// Backend bundles the three pixel stages. The build selects one
// implementation via newBackend.
type Backend interface {
	Decoder
	Composer
	Encoder
}
