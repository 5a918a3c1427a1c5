package wml

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"testing"
)

func TestParseAttributesAndChildren(t *testing.T) {
	doc := `
# leading comment
version="1.16"
[campaigns]
	[campaign]
		name=Brave_Wanderer
		title = "A ""quoted"" title"
		description="line one
line two"
	[/campaign]
	[campaign]
		name="Second"
		empty=
	[/campaign]
[/campaigns]
`
	cfg, err := ParseString(doc)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := cfg.Attr("version"); got != "1.16" {
		t.Fatalf("version=%q", got)
	}
	list := cfg.Child("campaigns").ChildrenNamed("campaign")
	if len(list) != 2 {
		t.Fatalf("expected 2 campaigns, got %d", len(list))
	}
	if got := list[0].Attr("name"); got != "Brave_Wanderer" {
		t.Fatalf("name=%q", got)
	}
	if got := list[0].Attr("title"); got != `A "quoted" title` {
		t.Fatalf("title=%q", got)
	}
	if got := list[0].Attr("description"); got != "line one\nline two" {
		t.Fatalf("description=%q", got)
	}
	if v, ok := list[1].Get("empty"); !ok || v != "" {
		t.Fatalf("empty=%q ok=%v", v, ok)
	}
}

func TestMarshalParseRoundTrip(t *testing.T) {
	in := New()
	root := in.AddChild("campaign")
	root.Set("name", "x").Set("title", `say "hi"`).Set("notes", "  padded\nmulti\r\nline ")
	root.AddChild("translation").Set("language", "de_DE")
	root.AddChild("translation").Set("language", "fr_FR")

	out, err := ParseString(in.String())
	if err != nil {
		t.Fatalf("parse: %v\n%s", err, in.String())
	}
	if !in.Equal(out) {
		t.Fatalf("round-trip mismatch:\n%s\n---\n%s", in.String(), out.String())
	}
}

func TestSetOverwritesInPlace(t *testing.T) {
	c := New().Set("a", "1").Set("b", "2").Set("a", "3")
	attrs := c.Attributes()
	if len(attrs) != 2 || attrs[0].Key != "a" || attrs[0].Value != "3" {
		t.Fatalf("unexpected attrs: %+v", attrs)
	}
	c.Remove("a")
	if c.Has("a") {
		t.Fatalf("expected a removed")
	}
}

func TestParseUnbalanced(t *testing.T) {
	cases := map[string]string{
		"wrong close":   "[a]\n[/b]\n",
		"missing close": "[a]\nx=1\n",
		"stray close":   "[/a]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseString(doc)
			if !errors.Is(err, ErrUnbalancedTag) {
				t.Fatalf("expected ErrUnbalancedTag, got %v", err)
			}
		})
	}
}

func TestParseSyntaxErrors(t *testing.T) {
	cases := map[string]string{
		"no equals":      "[a]\nkey value\n[/a]\n",
		"unterminated":   "[a]\nkey=\"open\n[/a]\n",
		"bad tag name":   "[a b]\n[/a b]\n",
		"junk after":     "[a]\nkey=\"v\" junk\n[/a]\n",
		"bad character":  "[a]\n=value\n[/a]\n",
		"newline in tag": "[a\n]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseString(doc)
			if err == nil {
				t.Fatalf("expected error")
			}
			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected ParseError, got %T %v", err, err)
			}
		})
	}
}

func TestParseDepthCap(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 5; i++ {
		sb.WriteString("[t]\n")
	}
	for i := 0; i < 5; i++ {
		sb.WriteString("[/t]\n")
	}
	if _, err := Parse(strings.NewReader(sb.String()), Options{MaxDepth: 5}); err != nil {
		t.Fatalf("depth 5 should parse: %v", err)
	}
	_, err := Parse(strings.NewReader(sb.String()), Options{MaxDepth: 4})
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}
}

func TestParseSizeCap(t *testing.T) {
	doc := "[a]\nkey=\"" + strings.Repeat("x", 100) + "\"\n[/a]\n"
	_, err := Parse(strings.NewReader(doc), Options{MaxBytes: 32})
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}

func TestReadRootStopsAtClosingTag(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("[foo]\n  bar=1\n[/foo]\n12\nBINARY"))
	name, body, err := ReadRoot(r, Options{})
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if name != "foo" || body.Attr("bar") != "1" {
		t.Fatalf("unexpected root %q body=%s", name, body)
	}
	rest, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read rest: %v", err)
	}
	if string(rest) != "\n12\nBINARY" {
		t.Fatalf("unexpected remainder %q", string(rest))
	}
}

func TestReadRootRejectsTopLevelAttribute(t *testing.T) {
	_, _, err := ReadRoot(bufio.NewReader(strings.NewReader("key=1\n")), Options{})
	if !errors.Is(err, ErrSyntax) {
		t.Fatalf("expected ErrSyntax, got %v", err)
	}
}

func TestReadRootEmptyInput(t *testing.T) {
	_, _, err := ReadRoot(bufio.NewReader(strings.NewReader("")), Options{})
	if !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF, got %v", err)
	}
	_, _, err = ReadRoot(bufio.NewReader(strings.NewReader("  \n")), Options{})
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	c := New()
	c.AddChild("ok").Set("bad key", "v")
	if err := c.Validate(); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("expected ErrInvalidName, got %v", err)
	}
}
