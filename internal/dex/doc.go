// Package dex reads and writes Dalvik executable files.
//
// Parse turns a dex image into a *File whose pools and references are held
// symbolically: instructions keep their raw code units but every index
// operand is also recorded as an InsnRef naming the string, type, field,
// method, proto, call site or method handle it points at. Serialize interns
// all of those again, sorts the pools the way the format requires and lays
// the file out from scratch, so method bodies can be replaced freely between
// the two calls.
//
//	f, err := dex.Parse(data, 33)
//	...
//	n, err := f.RewriteImplementations(dex.RewriterFunc(func(id dex.MethodID, access uint32, code *dex.Code) (*dex.Code, error) {
//		return code, nil
//	}))
//	...
//	out, err := dex.Serialize(f)
//
// Supported container versions are 035 through 040.
package dex
