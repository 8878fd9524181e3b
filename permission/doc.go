// Package permission maps named permissions to bits and roles to 64-bit masks.
//
// Bit positions follow the order of the names given to [NewRegistry] and a
// registry never changes after construction. With a reserved root bit, a mask
// holding that bit satisfies every check.
package permission
