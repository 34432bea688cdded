package codec

import (
	"database/sql"
	"encoding/json"
	"reflect"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

// Assign 把 Decode 得到的标准值赋给字段
// dst 必须是可以 Set 的，json 和 sql.Scanner 的情况下还需要可以取地址
func Assign(dst reflect.Value, v any) error {
	typ := dst.Type()
	if v == nil {
		dst.Set(reflect.Zero(typ))
		return nil
	}
	if typ.Kind() == reflect.Pointer {
		elem := reflect.New(typ.Elem())
		if err := Assign(elem.Elem(), v); err != nil {
			return err
		}
		dst.Set(elem)
		return nil
	}

	val := reflect.ValueOf(v)
	if val.Type() == typ {
		dst.Set(val)
		return nil
	}
	if raw, ok := v.(json.RawMessage); ok && dst.CanAddr() {
		if err := json.Unmarshal(raw, dst.Addr().Interface()); err != nil {
			return &errs.CodecError{Type: string(JSON), Value: v, Err: err}
		}
		return nil
	}
	// sql.NullString 之类的
	if dst.CanAddr() {
		if sc, ok := dst.Addr().Interface().(sql.Scanner); ok {
			if err := sc.Scan(driverValue(v)); err != nil {
				return &errs.CodecError{Type: typ.String(), Value: v, Err: err}
			}
			return nil
		}
	}

	switch typ.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if val.CanInt() {
			n := val.Int()
			if dst.OverflowInt(n) {
				return errs.NewErrCodec(typ.String(), v, "overflows %s", typ)
			}
			dst.SetInt(n)
			return nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if val.CanInt() {
			n := val.Int()
			if n < 0 || dst.OverflowUint(uint64(n)) {
				return errs.NewErrCodec(typ.String(), v, "overflows %s", typ)
			}
			dst.SetUint(uint64(n))
			return nil
		}
	case reflect.Float32, reflect.Float64:
		if val.CanFloat() {
			f := val.Float()
			if dst.OverflowFloat(f) {
				return errs.NewErrCodec(typ.String(), v, "overflows %s", typ)
			}
			dst.SetFloat(f)
			return nil
		}
	case reflect.String:
		if val.Kind() == reflect.String {
			dst.SetString(val.String())
			return nil
		}
	case reflect.Bool:
		if val.Kind() == reflect.Bool {
			dst.SetBool(val.Bool())
			return nil
		}
	case reflect.Slice:
		if bs, ok := v.([]byte); ok && typ.Elem().Kind() == reflect.Uint8 {
			dst.SetBytes(bs)
			return nil
		}
	}
	return errs.NewErrCodec(typ.String(), v, "cannot assign to %s", typ)
}

// driverValue 把标准值转换回 Scanner 能识别的值
func driverValue(v any) any {
	switch val := v.(type) {
	case uuid.UUID:
		return val.String()
	case decimal.Decimal:
		return val.String()
	case json.RawMessage:
		return []byte(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	}
	return v
}
