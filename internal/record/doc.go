// Package record defines the unit exchanged between sources and sinks.
//
// A Record is one observed contract: its address, deployed bytecode and the
// block it was observed at. Validation lives here and only here; sources call
// it before handing records to the engine and the engine calls it again before
// a merge, so sinks never see an invalid record.
//
// # At-rest Encoding
//
// Records are stored as self-describing JSON lines:
//
//	{"address":"0xabc...","bytecode":"0x6080...","block":17000000}
//
// Bytecode is always written as 0x-prefixed lowercase hex. A JSON null
// bytecode parses into a Record whose Bytecode is nil, which Validate rejects.
package record
