package valuer

import (
	"reflect"

	"github.com/roveil/scrudge-orm/orm/codec"
	"github.com/roveil/scrudge-orm/orm/internal/errs"
	"github.com/roveil/scrudge-orm/orm/model"
)

// Value 是对结构体实例的内部抽象
type Value interface {
	// Field 返回字段对应的值
	Field(name string) (any, error)
	// SetField 设置单个字段，v 是 codec 解码之后的标准值
	SetField(name string, v any) error
	// SetColumns 把一行数据设置到结构体上
	// cols 是列名，vals 是 driver 返回的原始值
	// 不属于这个模型的列原样放在返回的 map 里面，交给关联关系处理
	SetColumns(cols []string, vals []any) (map[string]any, error)
}

// Creator 本质上也可以看所是 factory 模式，极其简单的 factory 模式
type Creator func(val any, meta *model.Model) Value

// Decode 解码并且校验一整行，所有字段都成功之后才会调用 set
// 任何一个字段失败，都会返回 ValidationError，列出全部失败的字段
// 结构体本身不会被修改
func Decode(meta *model.Model, cols []string, vals []any,
	set func(fd *model.Field, val reflect.Value)) (map[string]any, error) {
	var (
		extras  map[string]any
		decoded = make([]reflect.Value, len(cols))
		fields  = make([]*model.Field, len(cols))
		failed  []*errs.FieldError
	)
	for i, col := range cols {
		fd, ok := meta.ColumnMap[col]
		if !ok {
			if extras == nil {
				extras = make(map[string]any, len(cols)-i)
			}
			extras[col] = vals[i]
			continue
		}
		val, err := decodeField(fd, vals[i])
		if err != nil {
			failed = append(failed, &errs.FieldError{Row: -1, Field: fd.GoName, Err: err})
			continue
		}
		fields[i], decoded[i] = fd, val
	}
	if len(failed) > 0 {
		return nil, &errs.ValidationError{Model: meta.Name, Fields: failed}
	}
	for i, fd := range fields {
		if fd != nil {
			set(fd, decoded[i])
		}
	}
	return extras, nil
}

func decodeField(fd *model.Field, src any) (reflect.Value, error) {
	v, err := fd.Codec.Decode(src)
	if err != nil {
		return reflect.Value{}, err
	}
	if err = fd.Validate(v); err != nil {
		return reflect.Value{}, err
	}
	// 先放在一个临时变量里面，保证失败的时候不会修改结构体
	return Convert(fd, v)
}

// Convert 把标准值转换成字段的 Go 类型
func Convert(fd *model.Field, v any) (reflect.Value, error) {
	tmp := reflect.New(fd.Type).Elem()
	if err := codec.Assign(tmp, v); err != nil {
		return reflect.Value{}, err
	}
	return tmp, nil
}
