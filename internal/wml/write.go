package wml

import (
	"bytes"
	"io"
	"strings"
)

// Marshal renders c as a document: attributes first, then child tags, one
// tab of indent per level. Values are always quoted.
func Marshal(c *Config) []byte {
	var buf bytes.Buffer
	writeNode(&buf, c, 0)
	return buf.Bytes()
}

// Write renders c to w.
func Write(w io.Writer, c *Config) error {
	_, err := w.Write(Marshal(c))
	return err
}

// String renders c as text.
func (c *Config) String() string {
	return string(Marshal(c))
}

func writeNode(buf *bytes.Buffer, c *Config, depth int) {
	if c == nil {
		return
	}
	indent := strings.Repeat("\t", depth)
	for _, a := range c.attrs {
		buf.WriteString(indent)
		buf.WriteString(a.Key)
		buf.WriteString(`="`)
		buf.WriteString(strings.ReplaceAll(a.Value, `"`, `""`))
		buf.WriteString("\"\n")
	}
	for _, ch := range c.children {
		buf.WriteString(indent)
		buf.WriteByte('[')
		buf.WriteString(ch.Name)
		buf.WriteString("]\n")
		writeNode(buf, ch.Config, depth+1)
		buf.WriteString(indent)
		buf.WriteString("[/")
		buf.WriteString(ch.Name)
		buf.WriteString("]\n")
	}
}
