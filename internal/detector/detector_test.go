// Copyright 2024 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package detector

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectEmpty(t *testing.T) {
	r := Detect(nil, DefaultConfig())
	assert.Equal(t, KindText, r.Kind)
	assert.Equal(t, EncodingUTF8, r.Encoding)
	assert.Equal(t, LineEndingNone, r.LineEnding)
	assert.Equal(t, 0, r.LineCount)
}

func TestDetectOversize(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxTextSize = 4
	r := Detect([]byte("hello"), cfg)
	assert.Equal(t, KindBinary, r.Kind)
}

func TestDetectNulByte(t *testing.T) {
	r := Detect([]byte("hello\x00world"), DefaultConfig())
	assert.Equal(t, KindBinary, r.Kind)
}

func TestDetectASCII(t *testing.T) {
	r := Detect([]byte("hello\nworld\n"), DefaultConfig())
	assert.Equal(t, KindText, r.Kind)
	assert.Equal(t, EncodingASCII, r.Encoding)
	assert.Equal(t, LineEndingLF, r.LineEnding)
	assert.Equal(t, 2, r.LineCount)
}

func TestDetectUTF8(t *testing.T) {
	r := Detect([]byte("héllo\nwörld\n"), DefaultConfig())
	assert.Equal(t, KindText, r.Kind)
	assert.Equal(t, EncodingUTF8, r.Encoding)
}

func TestDetectStripsBOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("hello\n")...)
	r := Detect(data, DefaultConfig())
	assert.Equal(t, KindText, r.Kind)
	assert.Equal(t, EncodingASCII, r.Encoding)
}

func TestDetectLatin1(t *testing.T) {
	data := []byte("caf\xe9 au lait\n")
	r := Detect(data, DefaultConfig())
	assert.Equal(t, KindText, r.Kind)
	assert.Equal(t, EncodingLatin1, r.Encoding)
}

func TestDetectInvalidByteSequenceIsBinary(t *testing.T) {
	data := bytes.Repeat([]byte{0x81, 0x8d, 0x90, 0x9d}, 10)
	r := Detect(data, DefaultConfig())
	assert.Equal(t, KindBinary, r.Kind)
}

func TestDetectHighNonPrintableRatioIsBinary(t *testing.T) {
	cfg := DefaultConfig()
	data := append([]byte("ok\n"), bytes.Repeat([]byte{0x01}, 200)...)
	r := Detect(data, cfg)
	assert.Equal(t, KindBinary, r.Kind)
}

func TestDetectLineEndings(t *testing.T) {
	cases := []struct {
		name string
		data string
		want LineEnding
	}{
		{"lf", "a\nb\nc\n", LineEndingLF},
		{"crlf", "a\r\nb\r\nc\r\n", LineEndingCRLF},
		{"cr", "a\rb\rc\r", LineEndingCR},
		{"mixed", "a\nb\r\nc\r", LineEndingMixed},
		{"none", "abc", LineEndingNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := Detect([]byte(tc.data), DefaultConfig())
			assert.Equal(t, KindText, r.Kind)
			assert.Equal(t, tc.want, r.LineEnding)
		})
	}
}

func TestDetectLineTooLongIsBinary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxLineLength = 8
	r := Detect([]byte("short\nthis line is way too long\n"), cfg)
	assert.Equal(t, KindBinary, r.Kind)
}

func TestDetectNoTrailingNewlineCountsFinalLine(t *testing.T) {
	r := Detect([]byte("a\nb"), DefaultConfig())
	assert.Equal(t, KindText, r.Kind)
	assert.Equal(t, 2, r.LineCount)
}
