package wml

import "fmt"

// Attribute is one key/value pair of a tag body.
type Attribute struct {
	Key   string
	Value string
}

// Child is one named child tag.
type Child struct {
	Name   string
	Config *Config
}

// Config is an ordered attribute tree. The zero value is an empty tree.
type Config struct {
	attrs    []Attribute
	children []Child
}

// New returns an empty tree.
func New() *Config {
	return &Config{}
}

// Set inserts or overwrites key in place and returns c for chaining.
func (c *Config) Set(key, value string) *Config {
	for i := range c.attrs {
		if c.attrs[i].Key == key {
			c.attrs[i].Value = value
			return c
		}
	}
	c.attrs = append(c.attrs, Attribute{Key: key, Value: value})
	return c
}

// Setf is Set with fmt formatting of the value.
func (c *Config) Setf(key, format string, args ...any) *Config {
	return c.Set(key, fmt.Sprintf(format, args...))
}

// Get returns the value stored under key.
func (c *Config) Get(key string) (string, bool) {
	if c == nil {
		return "", false
	}
	for _, a := range c.attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Attr returns the value stored under key or "".
func (c *Config) Attr(key string) string {
	v, _ := c.Get(key)
	return v
}

// Has reports whether key is set.
func (c *Config) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Remove deletes key if present.
func (c *Config) Remove(key string) {
	for i := range c.attrs {
		if c.attrs[i].Key == key {
			c.attrs = append(c.attrs[:i], c.attrs[i+1:]...)
			return
		}
	}
}

// Attributes returns a copy of the attributes in insertion order.
func (c *Config) Attributes() []Attribute {
	if c == nil {
		return nil
	}
	out := make([]Attribute, len(c.attrs))
	copy(out, c.attrs)
	return out
}

// AddChild appends a new empty child tag and returns it.
func (c *Config) AddChild(name string) *Config {
	child := New()
	c.children = append(c.children, Child{Name: name, Config: child})
	return child
}

// AppendChild appends an existing tree under name.
func (c *Config) AppendChild(name string, child *Config) {
	if child == nil {
		child = New()
	}
	c.children = append(c.children, Child{Name: name, Config: child})
}

// Child returns the first child tag called name, or nil.
func (c *Config) Child(name string) *Config {
	if c == nil {
		return nil
	}
	for _, ch := range c.children {
		if ch.Name == name {
			return ch.Config
		}
	}
	return nil
}

// ChildrenNamed returns every child tag called name in order.
func (c *Config) ChildrenNamed(name string) []*Config {
	if c == nil {
		return nil
	}
	var out []*Config
	for _, ch := range c.children {
		if ch.Name == name {
			out = append(out, ch.Config)
		}
	}
	return out
}

// Children returns a copy of the child list in order.
func (c *Config) Children() []Child {
	if c == nil {
		return nil
	}
	out := make([]Child, len(c.children))
	copy(out, c.children)
	return out
}

// Empty reports whether c has no attributes and no children.
func (c *Config) Empty() bool {
	return c == nil || (len(c.attrs) == 0 && len(c.children) == 0)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	if c == nil {
		return New()
	}
	out := &Config{
		attrs:    make([]Attribute, len(c.attrs)),
		children: make([]Child, 0, len(c.children)),
	}
	copy(out.attrs, c.attrs)
	for _, ch := range c.children {
		out.children = append(out.children, Child{Name: ch.Name, Config: ch.Config.Clone()})
	}
	return out
}

// Equal compares attribute sets (order-insensitive) and child sequences (order-sensitive).
func (c *Config) Equal(other *Config) bool {
	if c.Empty() && other.Empty() {
		return true
	}
	if c == nil || other == nil {
		return false
	}
	if len(c.attrs) != len(other.attrs) || len(c.children) != len(other.children) {
		return false
	}
	for _, a := range c.attrs {
		v, ok := other.Get(a.Key)
		if !ok || v != a.Value {
			return false
		}
	}
	for i := range c.children {
		if c.children[i].Name != other.children[i].Name {
			return false
		}
		if !c.children[i].Config.Equal(other.children[i].Config) {
			return false
		}
	}
	return true
}

// Validate checks every key and tag name in the tree.
func (c *Config) Validate() error {
	if c == nil {
		return nil
	}
	for _, a := range c.attrs {
		if !ValidName(a.Key) {
			return fmt.Errorf("%w: key %q", ErrInvalidName, a.Key)
		}
	}
	for _, ch := range c.children {
		if !ValidName(ch.Name) {
			return fmt.Errorf("%w: tag %q", ErrInvalidName, ch.Name)
		}
		if err := ch.Config.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// ValidName reports whether s is a legal tag or key name.
func ValidName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isNameByte(s[i]) {
			return false
		}
	}
	return true
}

func isNameByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
