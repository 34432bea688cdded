// Package codec converts between Go values and driver values for the closed
// set of logical column types.
package codec

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LogicalType 列的逻辑类型，集合是封闭的
type LogicalType string

const (
	Bool      LogicalType = "bool"
	SmallInt  LogicalType = "smallint"
	Integer   LogicalType = "integer"
	BigInt    LogicalType = "bigint"
	Float     LogicalType = "float"
	Decimal   LogicalType = "decimal"
	Text      LogicalType = "text"
	Bytes     LogicalType = "bytes"
	Timestamp LogicalType = "timestamp"
	Date      LogicalType = "date"
	UUID      LogicalType = "uuid"
	JSON      LogicalType = "json"
	SHA512    LogicalType = "sha512"
	// AES256 加密保存的文本，需要使用 WithAES256Key 注册
	AES256 LogicalType = "aes256"
)

// Codec 负责一种逻辑类型的编解码
// Decode(Encode(v)) 必须等于 v
type Codec interface {
	Type() LogicalType
	// Encode 把 Go 的值转换成 driver 能接受的值
	// nil 和 nil 指针编码成 nil
	Encode(v any) (driver.Value, error)
	// Decode 把 driver 返回的值转换成这个类型的标准 Go 值
	Decode(src any) (any, error)
}

// Registry 保存所有的 codec，创建之后只读
type Registry struct {
	codecs map[LogicalType]Codec
}

type Option func(r *Registry)

// WithAES256Key 注册 aes256 类型，同一个 Registry 里面的字段使用同一个密钥
func WithAES256Key(key string) Option {
	return func(r *Registry) {
		c := newAES256Codec(key)
		r.codecs[c.Type()] = c
	}
}

func NewRegistry(opts ...Option) *Registry {
	r := &Registry{codecs: make(map[LogicalType]Codec, 14)}
	for _, c := range []Codec{
		boolCodec{},
		intCodec{typ: SmallInt, bits: 16},
		intCodec{typ: Integer, bits: 32},
		intCodec{typ: BigInt, bits: 64},
		floatCodec{},
		decimalCodec{},
		textCodec{},
		bytesCodec{},
		timeCodec{typ: Timestamp},
		timeCodec{typ: Date, truncate: true},
		uuidCodec{},
		jsonCodec{},
		sha512Codec{},
	} {
		r.codecs[c.Type()] = c
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get 查找逻辑类型对应的 codec
func (r *Registry) Get(typ LogicalType) (Codec, bool) {
	c, ok := r.codecs[typ]
	return c, ok
}

var (
	timeType       = reflect.TypeOf(time.Time{})
	uuidType       = reflect.TypeOf(uuid.UUID{})
	decimalType    = reflect.TypeOf(decimal.Decimal{})
	rawMessageType = reflect.TypeOf(json.RawMessage{})
	nullTypes      = map[reflect.Type]LogicalType{
		reflect.TypeOf(sql.NullString{}):      Text,
		reflect.TypeOf(sql.NullInt64{}):       BigInt,
		reflect.TypeOf(sql.NullInt32{}):       Integer,
		reflect.TypeOf(sql.NullInt16{}):       SmallInt,
		reflect.TypeOf(sql.NullByte{}):        SmallInt,
		reflect.TypeOf(sql.NullBool{}):        Bool,
		reflect.TypeOf(sql.NullFloat64{}):     Float,
		reflect.TypeOf(sql.NullTime{}):        Timestamp,
		reflect.TypeOf(uuid.NullUUID{}):       UUID,
		reflect.TypeOf(decimal.NullDecimal{}): Decimal,
	}
)

// Infer 根据 Go 类型推断逻辑类型
// 第二个返回值表示这个类型本身是否可以表示 NULL
func (r *Registry) Infer(typ reflect.Type) (LogicalType, bool, bool) {
	nullable := false
	if typ.Kind() == reflect.Pointer {
		nullable = true
		typ = typ.Elem()
	}
	if lt, ok := nullTypes[typ]; ok {
		return lt, true, true
	}
	switch typ {
	case timeType:
		return Timestamp, nullable, true
	case uuidType:
		return UUID, nullable, true
	case decimalType:
		return Decimal, nullable, true
	case rawMessageType:
		return JSON, true, true
	}
	switch typ.Kind() {
	case reflect.Bool:
		return Bool, nullable, true
	case reflect.Int8, reflect.Int16, reflect.Uint8:
		return SmallInt, nullable, true
	case reflect.Int32, reflect.Uint16:
		return Integer, nullable, true
	case reflect.Int, reflect.Int64, reflect.Uint32, reflect.Uint, reflect.Uint64:
		return BigInt, nullable, true
	case reflect.Float32, reflect.Float64:
		return Float, nullable, true
	case reflect.String:
		return Text, nullable, true
	case reflect.Slice:
		if typ.Elem().Kind() == reflect.Uint8 {
			return Bytes, true, true
		}
		return JSON, true, true
	case reflect.Map:
		return JSON, true, true
	case reflect.Struct:
		return JSON, nullable, true
	}
	return "", false, false
}
