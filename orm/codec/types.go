package codec

import (
	"crypto/sha512"
	"database/sql/driver"
	"encoding/hex"
	"encoding/json"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

// deref 解开指针，nil 指针返回 nil
func deref(v any) any {
	for v != nil {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Pointer {
			return v
		}
		if rv.IsNil() {
			return nil
		}
		v = rv.Elem().Interface()
	}
	return nil
}

// valueOf 对于实现了 driver.Valuer 的类型，先拿到它的 driver 值
// 例如 sql.NullString
func valueOf(typ LogicalType, v any) (any, bool, error) {
	valuer, ok := v.(driver.Valuer)
	if !ok {
		return nil, false, nil
	}
	dv, err := valuer.Value()
	if err != nil {
		return nil, true, &errs.CodecError{Type: string(typ), Value: v, Err: err}
	}
	return dv, true, nil
}

type boolCodec struct{}

func (boolCodec) Type() LogicalType { return Bool }

func (c boolCodec) Encode(v any) (driver.Value, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	if dv, ok, err := valueOf(Bool, v); ok {
		if err != nil || dv == nil {
			return nil, err
		}
		v = dv
	}
	return c.toBool(v)
}

func (c boolCodec) Decode(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	return c.toBool(src)
}

func (boolCodec) toBool(v any) (bool, error) {
	rv := reflect.ValueOf(v)
	switch {
	case rv.Kind() == reflect.Bool:
		return rv.Bool(), nil
	case rv.CanInt():
		return rv.Int() != 0, nil
	case rv.Kind() == reflect.String:
		b, err := strconv.ParseBool(rv.String())
		if err != nil {
			return false, &errs.CodecError{Type: string(Bool), Value: v, Err: err}
		}
		return b, nil
	}
	if bs, ok := v.([]byte); ok {
		b, err := strconv.ParseBool(string(bs))
		if err != nil {
			return false, &errs.CodecError{Type: string(Bool), Value: v, Err: err}
		}
		return b, nil
	}
	return false, errs.NewErrCodec(string(Bool), v, "unsupported type")
}

// intCodec smallint integer bigint 共用，bits 决定取值范围
type intCodec struct {
	typ  LogicalType
	bits int
}

func (c intCodec) Type() LogicalType { return c.typ }

func (c intCodec) Encode(v any) (driver.Value, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	if dv, ok, err := valueOf(c.typ, v); ok {
		if err != nil || dv == nil {
			return nil, err
		}
		v = dv
	}
	return c.toInt(v)
}

func (c intCodec) Decode(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	n, err := c.toInt(src)
	if err != nil {
		return nil, err
	}
	switch c.bits {
	case 16:
		return int16(n), nil
	case 32:
		return int32(n), nil
	}
	return n, nil
}

func (c intCodec) toInt(v any) (int64, error) {
	rv := reflect.ValueOf(v)
	var n int64
	switch {
	case rv.CanInt():
		n = rv.Int()
	case rv.CanUint():
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, errs.NewErrCodec(string(c.typ), v, "out of range")
		}
		n = int64(u)
	case rv.CanFloat():
		f := rv.Float()
		if f != math.Trunc(f) || f >= math.Exp2(63) || f < math.MinInt64 {
			return 0, errs.NewErrCodec(string(c.typ), v, "not an integer")
		}
		n = int64(f)
	case rv.Kind() == reflect.String:
		return c.parse(v, rv.String())
	default:
		bs, ok := v.([]byte)
		if !ok {
			return 0, errs.NewErrCodec(string(c.typ), v, "unsupported type")
		}
		return c.parse(v, string(bs))
	}
	return n, c.checkRange(v, n)
}

func (c intCodec) parse(v any, s string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, &errs.CodecError{Type: string(c.typ), Value: v, Err: err}
	}
	return n, c.checkRange(v, n)
}

func (c intCodec) checkRange(v any, n int64) error {
	if c.bits >= 64 {
		return nil
	}
	lim := int64(1) << (c.bits - 1)
	if n < -lim || n >= lim {
		return errs.NewErrCodec(string(c.typ), v, "out of range [%d, %d]", -lim, lim-1)
	}
	return nil
}

type floatCodec struct{}

func (floatCodec) Type() LogicalType { return Float }

func (c floatCodec) Encode(v any) (driver.Value, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	if dv, ok, err := valueOf(Float, v); ok {
		if err != nil || dv == nil {
			return nil, err
		}
		v = dv
	}
	return c.toFloat(v)
}

func (c floatCodec) Decode(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	return c.toFloat(src)
}

func (floatCodec) toFloat(v any) (float64, error) {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanFloat():
		return rv.Float(), nil
	case rv.CanInt():
		return float64(rv.Int()), nil
	case rv.CanUint():
		return float64(rv.Uint()), nil
	case rv.Kind() == reflect.String:
		f, err := strconv.ParseFloat(rv.String(), 64)
		if err != nil {
			return 0, &errs.CodecError{Type: string(Float), Value: v, Err: err}
		}
		return f, nil
	}
	if bs, ok := v.([]byte); ok {
		f, err := strconv.ParseFloat(string(bs), 64)
		if err != nil {
			return 0, &errs.CodecError{Type: string(Float), Value: v, Err: err}
		}
		return f, nil
	}
	return 0, errs.NewErrCodec(string(Float), v, "unsupported type")
}

// decimalCodec 以字符串的形式写入，避免精度丢失
type decimalCodec struct{}

func (decimalCodec) Type() LogicalType { return Decimal }

func (c decimalCodec) Encode(v any) (driver.Value, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	if d, ok := v.(decimal.Decimal); ok {
		return d.String(), nil
	}
	if dv, ok, err := valueOf(Decimal, v); ok {
		if err != nil || dv == nil {
			return nil, err
		}
		v = dv
	}
	d, err := c.toDecimal(v)
	if err != nil {
		return nil, err
	}
	return d.String(), nil
}

func (c decimalCodec) Decode(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	return c.toDecimal(src)
}

func (decimalCodec) toDecimal(v any) (decimal.Decimal, error) {
	rv := reflect.ValueOf(v)
	switch {
	case rv.CanInt():
		return decimal.NewFromInt(rv.Int()), nil
	case rv.CanFloat():
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Decimal{}, errs.NewErrCodec(string(Decimal), v, "not a finite number")
		}
		return decimal.NewFromFloat(f), nil
	case rv.Kind() == reflect.String:
		d, err := decimal.NewFromString(rv.String())
		if err != nil {
			return decimal.Decimal{}, &errs.CodecError{Type: string(Decimal), Value: v, Err: err}
		}
		return d, nil
	}
	switch val := v.(type) {
	case decimal.Decimal:
		return val, nil
	case []byte:
		d, err := decimal.NewFromString(string(val))
		if err != nil {
			return decimal.Decimal{}, &errs.CodecError{Type: string(Decimal), Value: v, Err: err}
		}
		return d, nil
	}
	return decimal.Decimal{}, errs.NewErrCodec(string(Decimal), v, "unsupported type")
}

type textCodec struct{}

func (textCodec) Type() LogicalType { return Text }

func (c textCodec) Encode(v any) (driver.Value, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	if dv, ok, err := valueOf(Text, v); ok {
		if err != nil || dv == nil {
			return nil, err
		}
		v = dv
	}
	return c.toString(v)
}

func (c textCodec) Decode(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	return c.toString(src)
}

func (textCodec) toString(v any) (string, error) {
	if bs, ok := v.([]byte); ok {
		return string(bs), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	return "", errs.NewErrCodec(string(Text), v, "unsupported type")
}

type bytesCodec struct{}

func (bytesCodec) Type() LogicalType { return Bytes }

func (c bytesCodec) Encode(v any) (driver.Value, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	return c.toBytes(v)
}

func (c bytesCodec) Decode(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	return c.toBytes(src)
}

func (bytesCodec) toBytes(v any) ([]byte, error) {
	switch val := v.(type) {
	case []byte:
		if val == nil {
			return nil, nil
		}
		res := make([]byte, len(val))
		copy(res, val)
		return res, nil
	case string:
		return []byte(val), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() == reflect.Uint8 {
		return rv.Bytes(), nil
	}
	return nil, errs.NewErrCodec(string(Bytes), v, "unsupported type")
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// timeCodec 统一使用 UTC
// date 类型会截断到天
type timeCodec struct {
	typ      LogicalType
	truncate bool
}

func (c timeCodec) Type() LogicalType { return c.typ }

func (c timeCodec) Encode(v any) (driver.Value, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	if _, ok := v.(time.Time); !ok {
		if dv, ok, err := valueOf(c.typ, v); ok {
			if err != nil || dv == nil {
				return nil, err
			}
			v = dv
		}
	}
	return c.toTime(v)
}

func (c timeCodec) Decode(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	return c.toTime(src)
}

func (c timeCodec) toTime(v any) (time.Time, error) {
	var t time.Time
	switch val := v.(type) {
	case time.Time:
		t = val
	case string:
		return c.parse(v, val)
	case []byte:
		return c.parse(v, string(val))
	case int64:
		t = time.Unix(val, 0)
	default:
		return time.Time{}, errs.NewErrCodec(string(c.typ), v, "unsupported type")
	}
	return c.normalize(t), nil
}

func (c timeCodec) parse(v any, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return c.normalize(t), nil
		}
	}
	return time.Time{}, errs.NewErrCodec(string(c.typ), v, "malformed time")
}

func (c timeCodec) normalize(t time.Time) time.Time {
	t = t.UTC()
	if c.truncate {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	}
	return t
}

// uuidCodec 以标准的 36 位字符串写入
type uuidCodec struct{}

func (uuidCodec) Type() LogicalType { return UUID }

func (c uuidCodec) Encode(v any) (driver.Value, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	if n, ok := v.(uuid.NullUUID); ok {
		if !n.Valid {
			return nil, nil
		}
		v = n.UUID
	}
	u, err := c.toUUID(v)
	if err != nil {
		return nil, err
	}
	return u.String(), nil
}

func (c uuidCodec) Decode(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	return c.toUUID(src)
}

func (uuidCodec) toUUID(v any) (uuid.UUID, error) {
	switch val := v.(type) {
	case uuid.UUID:
		return val, nil
	case [16]byte:
		return uuid.UUID(val), nil
	case string:
		u, err := uuid.Parse(val)
		if err != nil {
			return uuid.Nil, &errs.CodecError{Type: string(UUID), Value: v, Err: err}
		}
		return u, nil
	case []byte:
		var (
			u   uuid.UUID
			err error
		)
		if len(val) == 16 {
			u, err = uuid.FromBytes(val)
		} else {
			u, err = uuid.ParseBytes(val)
		}
		if err != nil {
			return uuid.Nil, &errs.CodecError{Type: string(UUID), Value: v, Err: err}
		}
		return u, nil
	}
	return uuid.Nil, errs.NewErrCodec(string(UUID), v, "unsupported type")
}

// jsonCodec 标准值是 json.RawMessage，赋值的时候再反序列化到字段上
type jsonCodec struct{}

func (jsonCodec) Type() LogicalType { return JSON }

func (jsonCodec) Encode(v any) (driver.Value, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		if !json.Valid(raw) {
			return nil, errs.NewErrCodec(string(JSON), v, "invalid json")
		}
		return string(raw), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, &errs.CodecError{Type: string(JSON), Value: v, Err: err}
	}
	return string(data), nil
}

func (jsonCodec) Decode(src any) (any, error) {
	var data []byte
	switch val := src.(type) {
	case nil:
		return nil, nil
	case string:
		data = []byte(val)
	case []byte:
		data = make([]byte, len(val))
		copy(data, val)
	default:
		return nil, errs.NewErrCodec(string(JSON), src, "unsupported type")
	}
	if !json.Valid(data) {
		return nil, errs.NewErrCodec(string(JSON), src, "invalid json")
	}
	return json.RawMessage(data), nil
}

const sha512Prefix = "sha512:"

// sha512Codec 写入前做哈希，已经哈希过的值原样写入
type sha512Codec struct{}

func (sha512Codec) Type() LogicalType { return SHA512 }

func (sha512Codec) Encode(v any) (driver.Value, error) {
	v = deref(v)
	if v == nil {
		return nil, nil
	}
	s, err := textCodec{}.toString(v)
	if err != nil {
		return nil, errs.NewErrCodec(string(SHA512), v, "unsupported type")
	}
	if IsSHA512(s) {
		return s, nil
	}
	return HashSHA512(s), nil
}

func (sha512Codec) Decode(src any) (any, error) {
	if src == nil {
		return nil, nil
	}
	s, err := textCodec{}.toString(src)
	if err != nil {
		return nil, errs.NewErrCodec(string(SHA512), src, "unsupported type")
	}
	return s, nil
}

// HashSHA512 返回带前缀的十六进制摘要
func HashSHA512(s string) string {
	sum := sha512.Sum512([]byte(s))
	return sha512Prefix + hex.EncodeToString(sum[:])
}

// IsSHA512 判断是不是已经哈希过的值
func IsSHA512(s string) bool {
	if !strings.HasPrefix(s, sha512Prefix) {
		return false
	}
	digest := s[len(sha512Prefix):]
	if len(digest) != sha512.Size*2 {
		return false
	}
	_, err := hex.DecodeString(digest)
	return err == nil
}

// CheckSHA512 比较明文和哈希值
func CheckSHA512(hashed, plain string) bool {
	return hashed == HashSHA512(plain)
}
