package orm

import (
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/roveil/scrudge-orm/orm/model"
)

type TestModel struct {
	Id        int64
	FirstName string
	Age       int8
	LastName  *sql.NullString
}

type Author struct {
	Id    int64
	Name  string `orm:"min_len=1"`
	Posts Related[Post]
}

type Post struct {
	Id       int64
	Title    string
	AuthorId *int64 `orm:"fk=Author.Id"`
	Author   Related[Author]
	Tags     Related[Tag]
	Labels   Related[Tag]
}

type Tag struct {
	Id   int64
	Name string `orm:"unique"`
}

// PostTag Tags 通过这个模型关联，Labels 直接使用 post_label 表
type PostTag struct {
	Id     int64
	PostId int64 `orm:"fk=Post.Id"`
	TagId  int64 `orm:"fk=Tag.Id"`
}

// registerBlog 注册 Author Post Tag PostTag 以及它们之间的关联关系
func registerBlog(t *testing.T, db *DB) {
	_, err := db.Register(&Author{})
	require.NoError(t, err)
	_, err = db.Register(&Tag{})
	require.NoError(t, err)
	_, err = db.Register(&Post{}, model.WithRelation(
		model.BelongsTo("Author", Author{}, "AuthorId"),
	))
	require.NoError(t, err)
	_, err = db.Register(&PostTag{})
	require.NoError(t, err)
	require.NoError(t, db.Relate(&Post{},
		model.ManyToManyOf("Tags", Tag{}, model.Through(PostTag{}, "PostId", "TagId")),
		model.ManyToManyOf("Labels", Tag{}, model.JoinTable("post_label", "post_id", "tag_id")),
	))
	require.NoError(t, db.Relate(&Author{}, model.HasMany("Posts", Post{}, "AuthorId")))
}

// mockDB sqlmock 不支持 ping，所以关闭了探测
func mockDB(t *testing.T, opts ...DBOption) (*DB, sqlmock.Sqlmock) {
	mdb, mock, err := sqlmock.New()
	require.NoError(t, err)
	db, err := OpenDB(mdb, append([]DBOption{DBWithPing(false)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return db, mock
}

func ptr[T any](v T) *T {
	return &v
}
