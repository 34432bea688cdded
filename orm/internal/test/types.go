// Package test 放测试用的模型
package test

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SimpleStruct 包含了所有支持的类型
type SimpleStruct struct {
	Id      uint64
	Bool    bool
	BoolPtr *bool

	Int    int
	IntPtr *int

	Int8    int8
	Int8Ptr *int8

	Int16    int16
	Int16Ptr *int16

	Int32    int32
	Int32Ptr *int32

	Int64    int64
	Int64Ptr *int64

	Uint    uint
	UintPtr *uint

	Uint8    uint8
	Uint8Ptr *uint8

	Uint16    uint16
	Uint16Ptr *uint16

	Uint32    uint32
	Uint32Ptr *uint32

	Float32    float32
	Float32Ptr *float32

	Float64    float64
	Float64Ptr *float64

	ByteArray []byte
	String    string

	NullStringPtr  *sql.NullString
	NullInt16Ptr   *sql.NullInt16
	NullInt32Ptr   *sql.NullInt32
	NullInt64Ptr   *sql.NullInt64
	NullBoolPtr    *sql.NullBool
	NullFloat64Ptr *sql.NullFloat64

	Key       uuid.UUID
	Price     decimal.Decimal
	CreatedAt time.Time
	Birthday  time.Time `orm:"type=date"`

	JsonColumn *JsonColumn
}

type JsonColumn struct {
	Name string `json:"name"`
}

func NewSimpleStruct(id uint64) *SimpleStruct {
	return &SimpleStruct{
		Id:             id,
		Bool:           true,
		BoolPtr:        ToPtr[bool](false),
		Int:            12,
		IntPtr:         ToPtr[int](13),
		Int8:           8,
		Int8Ptr:        ToPtr[int8](-8),
		Int16:          16,
		Int16Ptr:       ToPtr[int16](-16),
		Int32:          32,
		Int32Ptr:       ToPtr[int32](-32),
		Int64:          64,
		Int64Ptr:       ToPtr[int64](-64),
		Uint:           14,
		UintPtr:        ToPtr[uint](15),
		Uint8:          8,
		Uint8Ptr:       ToPtr[uint8](18),
		Uint16:         16,
		Uint16Ptr:      ToPtr[uint16](116),
		Uint32:         32,
		Uint32Ptr:      ToPtr[uint32](132),
		Float32:        3.2,
		Float32Ptr:     ToPtr[float32](-3.2),
		Float64:        6.4,
		Float64Ptr:     ToPtr[float64](-6.4),
		ByteArray:      []byte("hello"),
		String:         "world",
		NullStringPtr:  &sql.NullString{String: "null string", Valid: true},
		NullInt16Ptr:   &sql.NullInt16{Int16: 16, Valid: true},
		NullInt32Ptr:   &sql.NullInt32{Int32: 32, Valid: true},
		NullInt64Ptr:   &sql.NullInt64{Int64: 64, Valid: true},
		NullBoolPtr:    &sql.NullBool{Bool: true, Valid: true},
		NullFloat64Ptr: &sql.NullFloat64{Float64: 6.4, Valid: true},
		Key:            uuid.MustParse("5c8a0a36-4a6a-4c1e-9a76-0b7cfb3c4b11"),
		Price:          decimal.RequireFromString("19.99"),
		CreatedAt:      time.Date(2023, 7, 1, 10, 30, 0, 0, time.UTC),
		Birthday:       time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC),
		JsonColumn:     &JsonColumn{Name: "Tom"},
	}
}

// SimpleRow 返回 NewSimpleStruct 对应的数据库原始值，都是 []byte
// 和 mysql 驱动在文本协议下返回的一样
func SimpleRow(id uint64) ([]string, []any) {
	cols := []string{
		"id", "bool", "bool_ptr", "int", "int_ptr", "int8", "int8_ptr", "int16", "int16_ptr",
		"int32", "int32_ptr", "int64", "int64_ptr", "uint", "uint_ptr", "uint8", "uint8_ptr",
		"uint16", "uint16_ptr", "uint32", "uint32_ptr", "float32", "float32_ptr", "float64", "float64_ptr",
		"byte_array", "string", "null_string_ptr", "null_int16_ptr", "null_int32_ptr", "null_int64_ptr",
		"null_bool_ptr", "null_float64_ptr", "key", "price", "created_at", "birthday", "json_column",
	}
	raw := []string{
		"", "true", "false", "12", "13", "8", "-8", "16", "-16",
		"32", "-32", "64", "-64", "14", "15", "8", "18",
		"16", "116", "32", "132", "3.2", "-3.2", "6.4", "-6.4",
		"hello", "world", "null string", "16", "32", "64",
		"true", "6.4", "5c8a0a36-4a6a-4c1e-9a76-0b7cfb3c4b11", "19.99", "2023-07-01 10:30:00", "2000-01-02",
		`{"name": "Tom"}`,
	}
	vals := make([]any, len(raw))
	for i, r := range raw {
		vals[i] = []byte(r)
	}
	vals[0] = int64(id)
	return cols, vals
}

func ToPtr[T any](t T) *T {
	return &t
}
