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

// Package detector is C3: a pure, dependency-free classifier that
// decides whether a byte slice should be stored on the text path or
// the binary path (§4.3). It holds no state and talks to no other
// component.
package detector

import "unicode/utf8"

// Encoding names the text encodings the detector recognises.
type Encoding string

const (
	EncodingASCII  Encoding = "ascii"
	EncodingUTF8   Encoding = "utf8"
	EncodingLatin1 Encoding = "latin1"
)

// LineEnding names the line-ending conventions a text file may use.
type LineEnding string

const (
	LineEndingLF    LineEnding = "lf"
	LineEndingCRLF  LineEnding = "crlf"
	LineEndingCR    LineEnding = "cr"
	LineEndingMixed LineEnding = "mixed"
	LineEndingNone  LineEnding = "none"
)

// Kind discriminates the classification outcome.
type Kind int

const (
	KindBinary Kind = iota
	KindText
)

// Result is the outcome of Detect: either Binary, or Text with its
// recognised encoding, line ending, and line count.
type Result struct {
	Kind       Kind
	Encoding   Encoding
	LineEnding LineEnding
	LineCount  int
}

// Config bounds the detector's tolerance for "text-like" input, per
// §4.3.
type Config struct {
	MaxTextSize          int64
	MaxLineLength        int
	MaxNonPrintableRatio float64
}

// DefaultConfig matches the defaults named in §4.3.
func DefaultConfig() Config {
	return Config{
		MaxTextSize:          10 * 1024 * 1024,
		MaxLineLength:        10 * 1024,
		MaxNonPrintableRatio: 0.05,
	}
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Detect classifies data per the decision procedure in §4.3: empty
// input is empty text; oversize or NUL-containing input is binary;
// otherwise the encoding is sniffed (ascii/utf8/latin1) and the
// non-printable ratio and line-ending shape are checked before the
// input is accepted as text.
func Detect(data []byte, cfg Config) Result {
	if len(data) == 0 {
		return Result{Kind: KindText, Encoding: EncodingUTF8, LineEnding: LineEndingNone, LineCount: 0}
	}
	if int64(len(data)) > cfg.MaxTextSize {
		return Result{Kind: KindBinary}
	}
	for _, b := range data {
		if b == 0 {
			return Result{Kind: KindBinary}
		}
	}

	body := data
	if len(body) >= len(utf8BOM) && bytesEqual(body[:len(utf8BOM)], utf8BOM) {
		body = body[len(utf8BOM):]
	}

	var encoding Encoding
	if utf8.Valid(body) {
		encoding = EncodingUTF8
		if isPure7Bit(body) {
			encoding = EncodingASCII
		}
	} else {
		if !isAcceptableLatin1(body) {
			return Result{Kind: KindBinary}
		}
		encoding = EncodingLatin1
	}

	if nonPrintableRatio(body) > cfg.MaxNonPrintableRatio {
		return Result{Kind: KindBinary}
	}

	ending, lineCount, longest := scanLines(body)
	if longest > cfg.MaxLineLength {
		return Result{Kind: KindBinary}
	}

	return Result{Kind: KindText, Encoding: encoding, LineEnding: ending, LineCount: lineCount}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isPure7Bit(data []byte) bool {
	for _, b := range data {
		if b >= 0x80 {
			return false
		}
	}
	return true
}

// isAcceptableLatin1 treats a byte sequence as latin1 when over 90% of
// its bytes, mapped one-to-one to latin1 characters, are printable or
// common whitespace, per §4.3 step 3. Bytes 0x80-0x9F are the latin1
// C1 control range and do not count as printable.
func isAcceptableLatin1(data []byte) bool {
	if len(data) == 0 {
		return true
	}
	acceptable := 0
	for _, b := range data {
		if isLatin1Printable(b) {
			acceptable++
		}
	}
	return float64(acceptable)/float64(len(data)) > 0.90
}

func isLatin1Printable(b byte) bool {
	if b == '\t' || b == '\n' || b == '\r' {
		return true
	}
	if b >= 0x20 && b < 0x7f {
		return true
	}
	return b >= 0xa0
}

func isPrintableOrWhitespace(b byte) bool {
	if b == '\t' || b == '\n' || b == '\r' {
		return true
	}
	if b >= 0x20 && b < 0x7f {
		return true
	}
	return b >= 0x80
}

// nonPrintableRatio counts bytes outside {tab, LF, CR, printable
// ASCII, byte >= 0x80} per §4.3 step 4.
func nonPrintableRatio(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	bad := 0
	for _, b := range data {
		if !isPrintableOrWhitespace(b) {
			bad++
		}
	}
	return float64(bad) / float64(len(data))
}

// scanLines walks data counting LF-only, CRLF, and bare-CR line
// endings and the longest line seen, per §4.3 step 5.
func scanLines(data []byte) (LineEnding, int, int) {
	var lf, crlf, cr int
	lineCount := 0
	longest := 0
	lineStart := 0

	i := 0
	for i < len(data) {
		b := data[i]
		switch b {
		case '\n':
			lineLen := i - lineStart
			if lineLen > longest {
				longest = lineLen
			}
			lf++
			lineCount++
			lineStart = i + 1
			i++
		case '\r':
			lineLen := i - lineStart
			if lineLen > longest {
				longest = lineLen
			}
			if i+1 < len(data) && data[i+1] == '\n' {
				crlf++
				i += 2
			} else {
				cr++
				i++
			}
			lineCount++
			lineStart = i
		default:
			i++
		}
	}
	if lineStart < len(data) {
		lineLen := len(data) - lineStart
		if lineLen > longest {
			longest = lineLen
		}
		lineCount++
	}

	styles := 0
	var ending LineEnding
	if lf > 0 {
		styles++
		ending = LineEndingLF
	}
	if crlf > 0 {
		styles++
		ending = LineEndingCRLF
	}
	if cr > 0 {
		styles++
		ending = LineEndingCR
	}
	switch {
	case styles == 0:
		return LineEndingNone, lineCount, longest
	case styles > 1:
		return LineEndingMixed, lineCount, longest
	default:
		return ending, lineCount, longest
	}
}
