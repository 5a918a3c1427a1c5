package protocol

import "github.com/danmuck/campaignd/internal/wml"

// NetworkData is one protocol message: a metadata tree plus an opaque binary
// payload. The zero value is an empty envelope ready for building. Once handed
// to Encode it must not be mutated.
type NetworkData struct {
	metadata *wml.Config
	binary   []byte
}

// NewNetworkData pairs metadata and binary. The envelope takes ownership of both.
func NewNetworkData(metadata *wml.Config, binary []byte) NetworkData {
	if metadata == nil {
		metadata = wml.New()
	}
	return NetworkData{metadata: metadata, binary: binary}
}

// Metadata returns the metadata tree, creating an empty one if needed.
func (d *NetworkData) Metadata() *wml.Config {
	if d.metadata == nil {
		d.metadata = wml.New()
	}
	return d.metadata
}

// Binary returns the binary payload; never nil.
func (d *NetworkData) Binary() []byte {
	if d.binary == nil {
		return []byte{}
	}
	return d.binary
}

func (d *NetworkData) SetMetadata(metadata *wml.Config) {
	d.metadata = metadata
}

func (d *NetworkData) SetBinary(binary []byte) {
	d.binary = binary
}

// Root returns the single root tag of the metadata. ok is false when the
// metadata does not have exactly one root tag and no top-level attributes.
func (d *NetworkData) Root() (name string, body *wml.Config, ok bool) {
	meta := d.Metadata()
	children := meta.Children()
	if len(children) != 1 || len(meta.Attributes()) != 0 {
		return "", nil, false
	}
	return children[0].Name, children[0].Config, true
}

// Limits constrains decode memory use.
type Limits struct {
	MaxMetadataBytes int64
	MaxDepth         int
	MaxTagLen        int
	MaxBinaryBytes   int64
}

func DefaultLimits() Limits {
	return Limits{
		MaxMetadataBytes: 1024 * 1024,
		MaxDepth:         wml.DefaultMaxDepth,
		MaxTagLen:        wml.DefaultMaxTagLen,
		MaxBinaryBytes:   100 * 1024 * 1024,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	def := DefaultLimits()
	if l.MaxMetadataBytes <= 0 {
		l.MaxMetadataBytes = def.MaxMetadataBytes
	}
	if l.MaxDepth <= 0 {
		l.MaxDepth = def.MaxDepth
	}
	if l.MaxTagLen <= 0 {
		l.MaxTagLen = def.MaxTagLen
	}
	if l.MaxBinaryBytes <= 0 {
		l.MaxBinaryBytes = def.MaxBinaryBytes
	}
	return l
}

func (l Limits) wmlOptions() wml.Options {
	return wml.Options{
		MaxDepth:  l.MaxDepth,
		MaxTagLen: l.MaxTagLen,
		MaxBytes:  l.MaxMetadataBytes,
	}
}
