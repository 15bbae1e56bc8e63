// Package dbf reads and writes dBASE III tables, the attribute part of a
// shapefile. Records are exchanged as geojson.Properties keyed by field
// name; text is converted from and to the table's code page.
package dbf

import (
	"errors"
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// Common errors returned by this package.
var (
	ErrFormat           = errors.New("dbf: invalid format")
	ErrTruncated        = errors.New("dbf: truncated input")
	ErrClosed           = errors.New("dbf: closed")
	ErrTooManyFields    = errors.New("dbf: too many fields")
	ErrHeaderNotWritten = errors.New("dbf: header not written")
	ErrSeekUnsupported  = errors.New("dbf: seek unsupported")
)

// Format constants.
const (
	Version = 0x03

	// MaxFields is the largest number of fields a table may declare.
	MaxFields = 128
	// MaxNameLength is the longest field name, in bytes.
	MaxNameLength = 10
	// MaxCharLength is the widest character field.
	MaxCharLength = 254

	headerSize      = 32
	descriptorSize  = 32
	fieldTerminator = 0x0D
	endOfFile       = 0x1A
	recordValid     = 0x20
	recordDeleted   = 0x2A

	recordCountOffset = 4
	codePageOffset    = 29
)

// FieldType is the dBASE type code of a field.
type FieldType byte

// Supported field types.
const (
	Character FieldType = 'C'
	Numeric   FieldType = 'N'
	Float     FieldType = 'F'
	Logical   FieldType = 'L'
	Date      FieldType = 'D'
)

func (t FieldType) String() string {
	return string(rune(t))
}

func (t FieldType) valid() bool {
	switch t {
	case Character, Numeric, Float, Logical, Date:
		return true
	}
	return false
}

// Field describes one column of a table.
type Field struct {
	Name     string
	Type     FieldType
	Length   int
	Decimals int
}

func (f Field) String() string {
	return fmt.Sprintf("%s %s(%d,%d)", f.Name, f.Type, f.Length, f.Decimals)
}

// CodePage is the language driver byte stored at offset 29 of the header.
type CodePage byte

// Common language drivers.
const (
	CodePageUTF8    CodePage = 0x00 // No driver; text is read and written as UTF-8
	CodePageDOSUS   CodePage = 0x01
	CodePageDOSIntl CodePage = 0x02
	CodePageWindows CodePage = 0x03
	CodePageANSI    CodePage = 0x57
	CodePageRussian CodePage = 0x26
	CodePageEastEU  CodePage = 0x64
	CodePage1250    CodePage = 0xC8
	CodePage1251    CodePage = 0xC9
	CodePage1254    CodePage = 0xCA
	CodePage1253    CodePage = 0xCB
)

var codePages = map[CodePage]*charmap.Charmap{
	CodePageDOSUS:   charmap.CodePage437,
	CodePageDOSIntl: charmap.CodePage850,
	CodePageWindows: charmap.Windows1252,
	CodePageANSI:    charmap.Windows1252,
	0x58:            charmap.Windows1252,
	0x59:            charmap.Windows1252,
	CodePageRussian: charmap.CodePage866,
	CodePageEastEU:  charmap.CodePage852,
	0x65:            charmap.CodePage866,
	0x7D:            charmap.Windows1255,
	0x7E:            charmap.Windows1256,
	CodePage1250:    charmap.Windows1250,
	CodePage1251:    charmap.Windows1251,
	CodePage1254:    charmap.Windows1254,
	CodePage1253:    charmap.Windows1253,
}

// Encoding returns the text encoding of the code page. Unknown drivers fall
// back to Windows-1252; CodePageUTF8 returns encoding.Nop.
func (c CodePage) Encoding() encoding.Encoding {
	if c == CodePageUTF8 {
		return encoding.Nop
	}
	if cm, ok := codePages[c]; ok {
		return cm
	}
	return charmap.Windows1252
}
