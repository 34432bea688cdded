package valuer_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
	"github.com/roveil/scrudge-orm/orm/internal/test"
	"github.com/roveil/scrudge-orm/orm/internal/valuer"
	"github.com/roveil/scrudge-orm/orm/internal/valuer/unsafe"
	"github.com/roveil/scrudge-orm/orm/model"
)

var creators = map[string]valuer.Creator{
	"reflect": valuer.NewReflectValue,
	"unsafe":  unsafe.NewUnsafeValue,
}

func TestValue_SetColumns(t *testing.T) {
	r := model.NewRegistry()
	meta, err := r.Register(&test.SimpleStruct{})
	require.NoError(t, err)

	cols, vals := test.SimpleRow(1)
	testCases := []struct {
		name       string
		cols       []string
		vals       []any
		wantVal    *test.SimpleStruct
		wantExtras map[string]any
		wantFields []string
	}{
		{
			name:    "normal value",
			cols:    cols,
			vals:    vals,
			wantVal: test.NewSimpleStruct(1),
		},
		{
			// join 的时候会有其它模型的列
			name:       "extra columns",
			cols:       []string{"id", "string", "Author__name"},
			vals:       []any{int64(3), "abc", []byte("Tom")},
			wantVal:    &test.SimpleStruct{Id: 3, String: "abc"},
			wantExtras: map[string]any{"Author__name": []byte("Tom")},
		},
		{
			name:    "null pointer",
			cols:    []string{"int_ptr", "null_string_ptr", "json_column"},
			vals:    []any{nil, nil, nil},
			wantVal: &test.SimpleStruct{},
		},
		{
			// 所有失败的字段都要列出来，结构体不会被修改
			name:       "invalid values",
			cols:       []string{"id", "int8", "created_at", "string", "key", "bool"},
			vals:       []any{int64(5), int64(300), "yesterday", nil, "not-a-uuid", "true"},
			wantVal:    &test.SimpleStruct{},
			wantFields: []string{"Int8", "CreatedAt", "String", "Key"},
		},
	}

	for name, creator := range creators {
		for _, tc := range testCases {
			t.Run(name+"/"+tc.name, func(t *testing.T) {
				val := &test.SimpleStruct{}
				extras, err := creator(val, meta).SetColumns(tc.cols, tc.vals)
				if len(tc.wantFields) > 0 {
					var ve *errs.ValidationError
					require.True(t, errors.As(err, &ve))
					assert.Equal(t, "SimpleStruct", ve.Model)
					got := make([]string, 0, len(ve.Fields))
					for _, f := range ve.Fields {
						got = append(got, f.Field)
					}
					assert.Equal(t, tc.wantFields, got)
					assert.Equal(t, tc.wantVal, val)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tc.wantExtras, extras)
				assert.Equal(t, tc.wantVal, val)
			})
		}
	}
}

func TestValue_ValidationCauses(t *testing.T) {
	type Account struct {
		Id    int64
		Name  string `orm:"min_len=2"`
		Level int16  `orm:"le=10"`
	}
	r := model.NewRegistry()
	meta, err := r.Register(&Account{})
	require.NoError(t, err)

	for name, creator := range creators {
		t.Run(name, func(t *testing.T) {
			_, err := creator(&Account{}, meta).SetColumns(
				[]string{"id", "name", "level"}, []any{int64(1), "a", int64(11)})
			var ve *errs.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.True(t, ve.Has("Name"))
			assert.True(t, ve.Has("Level"))
			assert.False(t, ve.Has("Id"))
			assert.True(t, errors.Is(err, errs.ErrCheckViolation))
		})
	}
}

func TestValue_Field(t *testing.T) {
	r := model.NewRegistry()
	meta, err := r.Register(&test.SimpleStruct{})
	require.NoError(t, err)

	for name, creator := range creators {
		t.Run(name, func(t *testing.T) {
			val := test.NewSimpleStruct(7)
			v := creator(val, meta)

			got, err := v.Field("Id")
			require.NoError(t, err)
			assert.Equal(t, uint64(7), got)

			got, err = v.Field("NullStringPtr")
			require.NoError(t, err)
			assert.Equal(t, val.NullStringPtr, got)

			_, err = v.Field("Unknown")
			assert.Equal(t, errs.NewErrUnknownField("Unknown"), err)

			require.NoError(t, v.SetField("Id", int64(42)))
			assert.Equal(t, uint64(42), val.Id)
			require.NoError(t, v.SetField("IntPtr", int64(9)))
			assert.Equal(t, 9, *val.IntPtr)

			err = v.SetField("Int8", int64(1000))
			var ce *errs.CodecError
			assert.True(t, errors.As(err, &ce))
		})
	}
}

func BenchmarkSetColumns(b *testing.B) {
	r := model.NewRegistry()
	meta, err := r.Register(&test.SimpleStruct{})
	require.NoError(b, err)
	cols, vals := test.SimpleRow(1)

	for name, creator := range creators {
		b.Run(name, func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				_, err := creator(&test.SimpleStruct{}, meta).SetColumns(cols, vals)
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
