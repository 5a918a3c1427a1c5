package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/danmuck/campaignd/internal/testutil/testlog"
	"github.com/danmuck/campaignd/internal/wml"
)

func sampleEnvelope(bin []byte) NetworkData {
	meta := wml.New()
	root := meta.AddChild("campaign")
	root.Set("name", "Brave_Wanderer").Set("title", `The "Brave" Wanderer`)
	root.AddChild("translation").Set("language", "de_DE")
	return NewNetworkData(meta, bin)
}

func TestRoundTripEncodeDecode(t *testing.T) {
	testlog.Start(t)
	large := bytes.Repeat([]byte{0x00, 0x5b, 0x2f, 0x5d, 0xff}, (1<<20)/5+1)[:1<<20]
	sizes := map[string][]byte{
		"empty": {},
		"one":   {0x5b},
		"1MiB":  large,
	}
	for name, bin := range sizes {
		t.Run(name, func(t *testing.T) {
			in := sampleEnvelope(bin)
			var buf bytes.Buffer
			if _, err := Encode(&buf, &in); err != nil {
				t.Fatalf("encode: %v", err)
			}
			r := bufio.NewReader(&buf)
			out, err := Decode(r, DefaultLimits())
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if !in.Metadata().Equal(out.Metadata()) {
				t.Fatalf("metadata mismatch:\n%s\n---\n%s", in.Metadata(), out.Metadata())
			}
			if !bytes.Equal(in.Binary(), out.Binary()) {
				t.Fatalf("binary mismatch: len in=%d out=%d", len(in.Binary()), len(out.Binary()))
			}
			if buf.Len() != 0 || r.Buffered() != 0 {
				t.Fatalf("decode left unread bytes: source=%d buffered=%d", buf.Len(), r.Buffered())
			}
		})
	}
}

func TestBuffersOrder(t *testing.T) {
	testlog.Start(t)
	in := sampleEnvelope([]byte("PK"))
	bufs, err := Buffers(&in)
	if err != nil {
		t.Fatalf("buffers: %v", err)
	}
	if len(bufs) != 3 {
		t.Fatalf("expected 3 buffers, got %d", len(bufs))
	}
	if !bytes.HasPrefix(bufs[0], []byte("[campaign]\n")) {
		t.Fatalf("metadata buffer: %q", bufs[0])
	}
	if string(bufs[1]) != "2\n" {
		t.Fatalf("size header: %q", bufs[1])
	}
	if string(bufs[2]) != "PK" {
		t.Fatalf("binary buffer: %q", bufs[2])
	}

	empty := sampleEnvelope(nil)
	bufs, err = Buffers(&empty)
	if err != nil {
		t.Fatalf("buffers: %v", err)
	}
	if len(bufs) != 2 || string(bufs[1]) != "0\n" {
		t.Fatalf("unexpected empty-binary buffers: %q", bufs)
	}
}

func TestEncodeRejectsInvalidEnvelope(t *testing.T) {
	testlog.Start(t)
	cases := map[string]*wml.Config{
		"no root":        wml.New(),
		"two roots":      func() *wml.Config { c := wml.New(); c.AddChild("a"); c.AddChild("b"); return c }(),
		"top-level attr": func() *wml.Config { c := wml.New(); c.AddChild("a"); c.Set("k", "v"); return c }(),
		"bad key":        func() *wml.Config { c := wml.New(); c.AddChild("a").Set("bad key", "v"); return c }(),
	}
	for name, meta := range cases {
		t.Run(name, func(t *testing.T) {
			d := NewNetworkData(meta, nil)
			if _, err := Encode(io.Discard, &d); !errors.Is(err, ErrInvalidEnvelope) {
				t.Fatalf("expected ErrInvalidEnvelope, got %v", err)
			}
		})
	}
}

func TestZeroValueEnvelope(t *testing.T) {
	var d NetworkData
	if d.Metadata() == nil || !d.Metadata().Empty() {
		t.Fatalf("expected empty metadata")
	}
	if d.Binary() == nil || len(d.Binary()) != 0 {
		t.Fatalf("expected empty non-nil binary")
	}
	d.Metadata().AddChild("message").Set("message", "hi")
	if name, body, ok := d.Root(); !ok || name != "message" || body.Attr("message") != "hi" {
		t.Fatalf("unexpected root %q ok=%v", name, ok)
	}
}

func TestReadRequestPeeksDiscriminator(t *testing.T) {
	testlog.Start(t)
	r := bufio.NewReader(strings.NewReader("\n  [foo]\n  bar=1\n[/foo]\n0\n"))
	name, err := PeekName(r, DefaultLimits().MaxTagLen)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if name != "foo" {
		t.Fatalf("name=%q", name)
	}
	again, err := PeekName(r, DefaultLimits().MaxTagLen)
	if err != nil || again != name {
		t.Fatalf("second peek %q err=%v", again, err)
	}

	req, err := ReadRequest(r, DefaultLimits())
	if err != nil {
		t.Fatalf("read request: %v", err)
	}
	if req.Name() != "foo" {
		t.Fatalf("request name=%q", req.Name())
	}
	if got := req.Body().Attr("bar"); got != "1" {
		t.Fatalf("bar=%q", got)
	}
	if len(req.Binary()) != 0 {
		t.Fatalf("expected empty binary")
	}
}

func TestReadRequestSequentialOnOneReader(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	first := NewRequest("request_license", nil, nil)
	second := NewRequest("upload", wml.New().Set("name", "x"), []byte("archive-bytes"))
	if _, err := first.WriteTo(&buf); err != nil {
		t.Fatalf("write first: %v", err)
	}
	if _, err := second.WriteTo(&buf); err != nil {
		t.Fatalf("write second: %v", err)
	}

	r := bufio.NewReader(&buf)
	got1, err := ReadRequest(r, DefaultLimits())
	if err != nil || got1.Name() != "request_license" {
		t.Fatalf("first: %v %v", got1, err)
	}
	got2, err := ReadRequest(r, DefaultLimits())
	if err != nil || got2.Name() != "upload" || string(got2.Binary()) != "archive-bytes" {
		t.Fatalf("second: %v %v", got2, err)
	}
	if _, err := ReadRequest(r, DefaultLimits()); !errors.Is(err, io.EOF) {
		t.Fatalf("expected io.EOF after last message, got %v", err)
	}
}

func TestReadRequestMalformedStart(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"no bracket":   "request_license\n",
		"closing tag":  "[/request_license]\n",
		"unterminated": "[request_license",
		"empty name":   "[]\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), DefaultLimits())
			if !errors.Is(err, ErrMalformedRequest) {
				t.Fatalf("expected ErrMalformedRequest, got %v", err)
			}
			if !IsFramingError(err) {
				t.Fatalf("expected framing error, got %T", err)
			}
		})
	}
}

func TestReadRequestTagTooLong(t *testing.T) {
	testlog.Start(t)
	raw := "[" + strings.Repeat("a", 40) + "]\n"
	_, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), Limits{MaxTagLen: 16})
	if !errors.Is(err, ErrMalformedRequest) {
		t.Fatalf("expected ErrMalformedRequest, got %v", err)
	}
}

func TestDecodeTruncatedBinary(t *testing.T) {
	testlog.Start(t)
	raw := "[upload]\n[/upload]\n10\nshort"
	_, err := Decode(bufio.NewReader(strings.NewReader(raw)), DefaultLimits())
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	var fe *FramingError
	if !errors.As(err, &fe) || fe.Stage != StageBinary {
		t.Fatalf("expected binary-stage framing error, got %v", err)
	}
}

func TestReadRequestKeepsDecodeStage(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		StageBinary:     "[upload]\n[/upload]\n10\n",
		StageSizeHeader: "[upload]\n[/upload]\n",
		StageMetadata:   "[upload]\nname=x\n",
	}
	for stage, raw := range cases {
		t.Run(stage, func(t *testing.T) {
			_, err := ReadRequest(bufio.NewReader(strings.NewReader(raw)), DefaultLimits())
			var fe *FramingError
			if !errors.As(err, &fe) {
				t.Fatalf("expected framing error, got %v", err)
			}
			if fe.Stage != stage {
				t.Fatalf("stage=%q want %q (%v)", fe.Stage, stage, err)
			}
		})
	}
}

func TestDecodeMissingSizeHeader(t *testing.T) {
	testlog.Start(t)
	_, err := Decode(bufio.NewReader(strings.NewReader("[a]\n[/a]\n")), DefaultLimits())
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeBadSizeHeader(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"negative":   "[a]\n[/a]\n-4\nabcd",
		"hex":        "[a]\n[/a]\n0x4\nabcd",
		"letters":    "[a]\n[/a]\nfour\nabcd",
		"too long":   "[a]\n[/a]\n" + strings.Repeat("9", 25) + "\n",
		"cr garbage": "[a]\n[/a]\n4\rabcd",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(bufio.NewReader(strings.NewReader(raw)), DefaultLimits())
			if !errors.Is(err, ErrBadSizeHeader) {
				t.Fatalf("expected ErrBadSizeHeader, got %v", err)
			}
		})
	}
}

func TestDecodeAcceptsCRLFSizeHeader(t *testing.T) {
	testlog.Start(t)
	d, err := Decode(bufio.NewReader(strings.NewReader("[a]\r\n[/a]\r\n4\r\nabcd")), DefaultLimits())
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(d.Binary()) != "abcd" {
		t.Fatalf("binary=%q", d.Binary())
	}
}

func TestDecodeBinaryLimit(t *testing.T) {
	testlog.Start(t)
	_, err := Decode(bufio.NewReader(strings.NewReader("[a]\n[/a]\n1000\n")), Limits{MaxBinaryBytes: 999})
	if !errors.Is(err, ErrBinaryTooLarge) {
		t.Fatalf("expected ErrBinaryTooLarge, got %v", err)
	}
}

func TestDecodeUnbalancedAndDepth(t *testing.T) {
	testlog.Start(t)
	_, err := Decode(bufio.NewReader(strings.NewReader("[a]\n[b]\n[/a]\n0\n")), DefaultLimits())
	if !errors.Is(err, ErrUnbalancedTag) {
		t.Fatalf("expected ErrUnbalancedTag, got %v", err)
	}

	deep := strings.Repeat("[t]\n", 10) + strings.Repeat("[/t]\n", 10) + "0\n"
	_, err = Decode(bufio.NewReader(strings.NewReader(deep)), Limits{MaxDepth: 3})
	if !errors.Is(err, ErrDepthExceeded) {
		t.Fatalf("expected ErrDepthExceeded, got %v", err)
	}

	_, err = Decode(bufio.NewReader(strings.NewReader("[a]\nk=\""+strings.Repeat("x", 64)+"\"\n[/a]\n0\n")), Limits{MaxMetadataBytes: 16})
	if !errors.Is(err, ErrMetadataTooLarge) {
		t.Fatalf("expected ErrMetadataTooLarge, got %v", err)
	}
}

func TestReplyHelpers(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	if _, err := ErrorReply("add-on not found").WriteTo(&buf); err != nil {
		t.Fatalf("write: %v", err)
	}
	reply, err := ReadReply(bufio.NewReader(&buf), DefaultLimits())
	if err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if !reply.IsError() || reply.Tag() != TagError {
		t.Fatalf("expected error reply, got %q", reply.Tag())
	}
	if got := reply.Body().Attr("message"); got != "add-on not found" {
		t.Fatalf("message=%q", got)
	}
	if MessageReply("ok").IsError() {
		t.Fatalf("message reply flagged as error")
	}
}
