package unsafe

import (
	"reflect"
	"unsafe"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
	"github.com/roveil/scrudge-orm/orm/internal/valuer"
	"github.com/roveil/scrudge-orm/orm/model"
)

type unsafeValue struct {
	addr unsafe.Pointer // 使用 unsafe Pointer 而不是 uintptr 是因为 gc 后 uintptr 会发生变化
	meta *model.Model
}

var _ valuer.Creator = NewUnsafeValue

func NewUnsafeValue(val any, meta *model.Model) valuer.Value {
	return unsafeValue{
		addr: reflect.ValueOf(val).UnsafePointer(),
		meta: meta,
	}
}

// fieldOf 起始地址加上偏移量就是字段的地址
func (u unsafeValue) fieldOf(fd *model.Field) reflect.Value {
	ptr := unsafe.Pointer(uintptr(u.addr) + fd.Offset)
	return reflect.NewAt(fd.Type, ptr).Elem()
}

func (u unsafeValue) Field(name string) (any, error) {
	fd, ok := u.meta.FieldMap[name]
	if !ok {
		return nil, errs.NewErrUnknownField(name)
	}
	return u.fieldOf(fd).Interface(), nil
}

func (u unsafeValue) SetField(name string, v any) error {
	fd, ok := u.meta.FieldMap[name]
	if !ok {
		return errs.NewErrUnknownField(name)
	}
	val, err := valuer.Convert(fd, v)
	if err != nil {
		return err
	}
	u.fieldOf(fd).Set(val)
	return nil
}

func (u unsafeValue) SetColumns(cols []string, vals []any) (map[string]any, error) {
	return valuer.Decode(u.meta, cols, vals, func(fd *model.Field, val reflect.Value) {
		u.fieldOf(fd).Set(val)
	})
}
