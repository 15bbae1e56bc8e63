package shapefile

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/flatgeobuf/flatgeobuf/src/go/flattypes"
	"github.com/flatgeobuf/flatgeobuf/src/go/writer"
	json "github.com/goccy/go-json"
	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/paulmach/orb/geojson"
	"github.com/tingold/orb-shapefile/dbf"
)

// columnsFromFields maps attribute fields to FlatGeobuf columns, in field
// order.
func columnsFromFields(fields []dbf.Field, builder *flatbuffers.Builder) ([]*writer.Column, []flattypes.ColumnType) {
	if len(fields) == 0 {
		return nil, nil
	}

	columns := make([]*writer.Column, 0, len(fields))
	types := make([]flattypes.ColumnType, 0, len(fields))
	for _, f := range fields {
		t := fieldColumnType(f)
		col := writer.NewColumn(builder)
		col.SetName(f.Name)
		col.SetTitle(f.Name) // Set title to match name for JS library compatibility
		col.SetType(t)
		col.SetNullable(true)
		columns = append(columns, col)
		types = append(types, t)
	}
	return columns, types
}

// fieldColumnType determines the FlatGeobuf column type for a field.
func fieldColumnType(f dbf.Field) flattypes.ColumnType {
	switch f.Type {
	case dbf.Logical:
		return flattypes.ColumnTypeBool
	case dbf.Numeric:
		if f.Decimals == 0 {
			return flattypes.ColumnTypeLong
		}
		return flattypes.ColumnTypeDouble
	case dbf.Float:
		return flattypes.ColumnTypeDouble
	case dbf.Date:
		return flattypes.ColumnTypeDateTime
	default:
		return flattypes.ColumnTypeString
	}
}

// encodeProperties encodes geojson.Properties to FlatGeobuf binary format.
// The format is: [2-byte column index][value bytes]... repeated for each
// non-null property, in column order.
func encodeProperties(props geojson.Properties, fields []dbf.Field, types []flattypes.ColumnType) []byte {
	if props == nil || len(fields) == 0 {
		return nil
	}

	var buf bytes.Buffer
	for i, f := range fields {
		value, ok := props[f.Name]
		if !ok || value == nil {
			continue
		}

		var index [2]byte
		binary.LittleEndian.PutUint16(index[:], uint16(i))
		buf.Write(index[:])
		writePropertyValue(&buf, value, types[i])
	}
	return buf.Bytes()
}

// writePropertyValue writes a single property value to the buffer. Values
// that cannot be converted are written as the column's zero value so that
// the column index written before stays valid.
func writePropertyValue(buf *bytes.Buffer, value interface{}, colType flattypes.ColumnType) {
	switch colType {
	case flattypes.ColumnTypeBool:
		v, _ := value.(bool)
		if v {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}

	case flattypes.ColumnTypeLong:
		v, _ := toInt64(value)
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v))
		buf.Write(b)

	case flattypes.ColumnTypeDouble:
		v, _ := toFloat64(value)
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v))
		buf.Write(b)

	case flattypes.ColumnTypeDateTime:
		s := toString(value)
		if t, ok := value.(time.Time); ok {
			s = t.Format(time.RFC3339)
		}
		writeString(buf, s)

	default:
		writeString(buf, toString(value))
	}
}

// writeString writes a length-prefixed UTF-8 string.
func writeString(buf *bytes.Buffer, s string) {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(len(s)))
	buf.Write(b)
	buf.WriteString(s)
}

// Type conversion helpers

func toInt64(v interface{}) (int64, bool) {
	switch val := v.(type) {
	case int:
		return int64(val), true
	case int32:
		return int64(val), true
	case int64:
		return val, true
	case uint32:
		return int64(val), true
	case uint64:
		return int64(val), true
	case float32:
		return int64(val), true
	case float64:
		return int64(val), true
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i, true
		}
		if f, err := val.Float64(); err == nil {
			return int64(f), true
		}
	}
	return 0, false
}

func toFloat64(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float32:
		return float64(val), true
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		if f, err := val.Float64(); err == nil {
			return f, true
		}
	}
	return 0, false
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		// For other types, use JSON encoding
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
