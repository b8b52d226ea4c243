/*
Package rtti implements runtime type information for Go structs and a binary
serializer, deserializer and cloner built on top of it.

We implement:

1. Types, describing the serialized fields of a struct, defined once at startup
in a Registry under stable numeric ids.

2. Plain traits, flattening leaf values (numbers, strings, slices, maps, POD
structs, msgpack documents) to bytes and back.

3. A stream format that preserves object identity: an object referenced from
several places is written once and decoded as one shared object, and cycles
round-trip.

4. Memory and file adapters, a schema-less intermediate decoder, generic field
access by name, and a cloner.

# Technical Details

**Field kinds.**
Plain fields hold leaf values encoded by a Trait. Ptr fields reference other
reflectable objects and preserve sharing. Value fields embed a reflectable
struct by value. Data blocks are opaque byte blobs. Each kind except data
blocks comes in a single and an array flavor.

**Ids.**
Type ids and field ids are never reused. A field removed from a type should
have its id listed in Retired, so that it cannot be assigned again by mistake.

**Hierarchy.**
A type may extend a base type (see Extends). Each level of the hierarchy is
serialized as its own section, so base and derived types gain and lose fields
independently.

**Compatibility.**
Every field and section is length-prefixed. A decoder skips field ids and
sections it does not know, and fields it knows but that are missing from the
stream keep their zero values. Changing the kind of an existing field is an
error.

## Binary encoding

All integers are little-endian regardless of the host.

**Stream header** (8 bytes): magic "RTTI" (u32 0x49545452), format version
(u8), flags (u8: bit 0 little-endian, bit 1 checksum, bit 2 zstd), reserved
(u16).

**Reference**: tag (u8). 0 is nil. 1 is a back-reference, followed by the
object id (u32). 2 is an inline object, followed by the object id (u32) and
an object block. Object ids are assigned in encounter order starting from 1;
every record starts with a reference to its root object.

**Object block**: type id (u32), size of the rest (u32), then one section per
hierarchy level, most derived first.

**Section**: level type id (u32), size (u32), field entries.

**Field entry**:
1. Field id (u16).
2. Flags (u8): kind in bits 0-2, 0x08 array, 0x10 dynamically sized plain.
3. Plain tag (u8), see PlainTag.
4. Payload size (u32).
5. Payload. Arrays start with an element count (u32). Plain elements are
encoded by their trait; dynamic ones start with their total size (u32,
including itself). Ptr elements are references, value elements are object
blocks. A data block is its length (u32) followed by its bytes.

**File records** are written back to back after the header. When the header
asks for a checksum or compression, each record is framed: frame size (u32),
frame (the record, zstd-compressed if requested), xxhash64 of the frame (u64,
if requested).
*/
package rtti
