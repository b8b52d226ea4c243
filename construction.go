package rtti

// Construction is the per-object state of a decode in progress. It is passed
// to deserialization hooks and to field decoders registered with DecodeWith,
// and discarded once the object is complete. Types that can only be
// initialized after all of their fields are known keep intermediate values
// in Scratch between OnDeserializationStarted and OnDeserializationEnded.
type Construction struct {
	// Object is the object being decoded.
	Object Reflectable

	// Scratch is free for use by the object's type and bases.
	Scratch Any

	// Depth is the nesting depth of the object within the record, starting
	// at zero for the root.
	Depth int

	op *decodeOp
}

// Registry returns the registry used by the current decode.
func (cc *Construction) Registry() *Registry {
	return cc.op.reg
}

// Options returns the options of the current decode.
func (cc *Construction) Options() *Options {
	return cc.op.opt
}
