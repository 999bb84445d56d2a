// Package diag classifies what went wrong (or nearly wrong) in a patch run.
//
// Every failure the driver returns is a *Error carrying a Code; the CLI maps
// codes to exit statuses and prints them with Pretty. Non-fatal findings,
// such as an archive in which no target matched, are collected as
// Diagnostics in a Bag.
//
// Code ranges:
//
//	USE1xxx  command line
//	CAT2xxx  patch catalog and paccer.toml
//	DEX3xxx  input format and code verification
//	IO4xxx   reading and writing files
//	RWR5xxx  rewrite outcome
package diag
