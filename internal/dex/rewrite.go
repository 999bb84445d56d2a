package dex

import "fmt"

// Rewriter decides the implementation of one method. It receives the
// original code and returns it unchanged or returns a replacement.
type Rewriter interface {
	RewriteImplementation(id MethodID, access uint32, code *Code) (*Code, error)
}

// RewriterFunc adapts a function to Rewriter.
type RewriterFunc func(id MethodID, access uint32, code *Code) (*Code, error)

func (fn RewriterFunc) RewriteImplementation(id MethodID, access uint32, code *Code) (*Code, error) {
	return fn(id, access, code)
}

// RewriteImplementations calls r once for every method that has code, in
// class order with direct methods before virtual ones, and installs what it
// returns. It reports how many implementations were replaced.
func (f *File) RewriteImplementations(r Rewriter) (int, error) {
	replaced := 0
	for _, cls := range f.Classes {
		for _, m := range cls.Methods() {
			if m.Code == nil {
				continue
			}
			code, err := r.RewriteImplementation(m.ID, m.Access, m.Code)
			if err != nil {
				return replaced, fmt.Errorf("%s: %w", m.ID, err)
			}
			if code == nil {
				return replaced, fmt.Errorf("%s: rewriter returned no implementation", m.ID)
			}
			if code != m.Code {
				m.Code = code
				replaced++
			}
		}
	}
	return replaced, nil
}

// Methods returns direct methods followed by virtual methods.
func (c *Class) Methods() []*Method {
	out := make([]*Method, 0, len(c.DirectMethods)+len(c.VirtualMethods))
	out = append(out, c.DirectMethods...)
	return append(out, c.VirtualMethods...)
}

// FindMethod returns the first method of c with the given name.
func (c *Class) FindMethod(name string) *Method {
	for _, m := range c.Methods() {
		if m.ID.Name == name {
			return m
		}
	}
	return nil
}

// FindClass returns the class definition for a type descriptor.
func (f *File) FindClass(desc string) *Class {
	for _, c := range f.Classes {
		if c.Type == desc {
			return c
		}
	}
	return nil
}
