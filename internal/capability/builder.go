package capability

// Builder assembles a Bundle by mutation, for callers that add tools in a
// loop rather than by chaining value copies.
type Builder struct {
	bundle Bundle
}

// NewBuilder starts a bundle for the worker id.
func NewBuilder(id string) *Builder {
	return &Builder{bundle: NewBundle(id)}
}

// Add appends tool to category c. Unknown categories are ignored.
func (bb *Builder) Add(c Category, tool ToolCapability) *Builder {
	bb.bundle.Add(c, tool)
	return bb
}

// Flag sets a flag.
func (bb *Builder) Flag(name string) *Builder {
	bb.bundle.Flags[name] = true
	return bb
}

// Metadata sets a metadata entry.
func (bb *Builder) Metadata(key, value string) *Builder {
	bb.bundle.Metadata[key] = value
	return bb
}

// Build returns a copy of the assembled bundle; the builder stays usable.
func (bb *Builder) Build() Bundle {
	return bb.bundle.Clone()
}
