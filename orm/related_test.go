package orm

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roveil/scrudge-orm/orm/internal/errs"
)

func TestPreload_HasMany(t *testing.T) {
	db, mock := mockDB(t)
	registerBlog(t, db)

	authors := []*Author{{Id: 1, Name: "Tom"}, {Id: 2, Name: "Jerry"}, {Id: 3, Name: "Spike"}}
	mock.ExpectQuery("SELECT \\* FROM `post` WHERE `author_id` IN \\(\\?,\\?,\\?\\) ORDER BY `id`;").
		WithArgs(int64(1), int64(2), int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id"}).
			AddRow(int64(10), "a", int64(1)).
			AddRow(int64(11), "b", int64(2)).
			AddRow(int64(12), "c", int64(1)))

	require.NoError(t, Preload(context.Background(), db, authors, "Posts"))
	require.NoError(t, mock.ExpectationsWereMet())

	titles := func(a *Author) []string {
		var res []string
		for _, p := range a.Posts.Items() {
			res = append(res, p.Title)
		}
		return res
	}
	assert.Equal(t, []string{"a", "c"}, titles(authors[0]))
	assert.Equal(t, []string{"b"}, titles(authors[1]))
	// 没有关联数据也是已经加载
	assert.True(t, authors[2].Posts.Loaded())
	assert.Empty(t, authors[2].Posts.Items())
}

func TestPreload_BelongsTo(t *testing.T) {
	db, mock := mockDB(t)
	registerBlog(t, db)

	// NULL 外键不参与查询，相同的外键只查一次
	posts := []*Post{
		{Id: 10, AuthorId: ptr[int64](1)},
		{Id: 11, AuthorId: nil},
		{Id: 12, AuthorId: ptr[int64](1)},
	}
	mock.ExpectQuery("SELECT \\* FROM `author` WHERE `id` IN \\(\\?\\) ORDER BY `id`;").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(1), "Tom"))

	require.NoError(t, Preload(context.Background(), db, posts, "Author"))
	require.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, "Tom", posts[0].Author.First().Name)
	assert.Same(t, posts[0].Author.First(), posts[2].Author.First())
	assert.True(t, posts[1].Author.Loaded())
	assert.Nil(t, posts[1].Author.First())
}

func TestPreload_ManyToMany(t *testing.T) {
	testCases := []struct {
		name     string
		relation string
		mock     func(mock sqlmock.Sqlmock)
		get      func(p *Post) []*Tag
	}{
		{
			// 中间模型需要两条查询
			name:     "through",
			relation: "Tags",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT \\* FROM `post_tag` WHERE `post_id` IN \\(\\?,\\?\\) ORDER BY `id`;").
					WithArgs(int64(10), int64(11)).
					WillReturnRows(sqlmock.NewRows([]string{"id", "post_id", "tag_id"}).
						AddRow(int64(1), int64(10), int64(100)).
						AddRow(int64(2), int64(10), int64(101)).
						AddRow(int64(3), int64(11), int64(100)))
				mock.ExpectQuery("SELECT \\* FROM `tag` WHERE `id` IN \\(\\?,\\?\\) ORDER BY `id`;").
					WithArgs(int64(100), int64(101)).
					WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
						AddRow(int64(100), "go").
						AddRow(int64(101), "sql"))
			},
			get: func(p *Post) []*Tag {
				return p.Tags.Items()
			},
		},
		{
			// 隐式的中间表和目标表 JOIN 在一起
			name:     "join table",
			relation: "Labels",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT `Labels`.\\*,`Labels__j`.`post_id` AS `__owner` FROM `tag` AS `Labels` " +
					"JOIN `post_label` AS `Labels__j` ON `Labels`.`id`=`Labels__j`.`tag_id` " +
					"WHERE `Labels__j`.`post_id` IN \\(\\?,\\?\\) ORDER BY `Labels`.`id`;").
					WithArgs(int64(10), int64(11)).
					WillReturnRows(sqlmock.NewRows([]string{"id", "name", "__owner"}).
						AddRow(int64(100), "go", int64(10)).
						AddRow(int64(100), "go", int64(11)).
						AddRow(int64(101), "sql", int64(10)))
			},
			get: func(p *Post) []*Tag {
				return p.Labels.Items()
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := mockDB(t)
			registerBlog(t, db)
			tc.mock(mock)

			posts := []*Post{{Id: 10}, {Id: 11}}
			require.NoError(t, Preload(context.Background(), db, posts, tc.relation))
			require.NoError(t, mock.ExpectationsWereMet())

			first, second := tc.get(posts[0]), tc.get(posts[1])
			require.Len(t, first, 2)
			assert.Equal(t, "go", first[0].Name)
			assert.Equal(t, "sql", first[1].Name)
			require.Len(t, second, 1)
			// 同一个目标只有一个实例
			assert.Same(t, first[0], second[0])
		})
	}
}

func TestPreload_Errors(t *testing.T) {
	db, mock := mockDB(t)
	registerBlog(t, db)
	ctx := context.Background()

	err := Preload(ctx, db, []*Author{{Id: 1}}, "Invalid")
	assert.Equal(t, errs.NewErrRelationNotFound("Author", "Invalid"), err)

	// 没有 owner 的时候不会查询
	require.NoError(t, Preload[Author](ctx, db, nil, "Posts"))

	mock.ExpectQuery("SELECT .*").WillReturnError(errors.New("boom"))
	err = Preload(ctx, db, []*Author{{Id: 1}}, "Posts")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoad(t *testing.T) {
	db, mock := mockDB(t)
	registerBlog(t, db)
	ctx := context.Background()

	author := &Author{Id: 1, Name: "Tom"}
	mock.ExpectQuery("SELECT \\* FROM `post` WHERE `author_id` IN \\(\\?\\) ORDER BY `id`;").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id"}).AddRow(int64(10), "a", int64(1)))

	posts, err := Load[Author, Post](ctx, db, author, "Posts")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "a", posts[0].Title)

	// 加载过之后不再查询
	again, err := Load[Author, Post](ctx, db, author, "Posts")
	require.NoError(t, err)
	assert.Equal(t, posts, again)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = Load[Author, Tag](ctx, db, author, "Posts")
	var qbErr *QueryBuildError
	assert.True(t, errors.As(err, &qbErr))

	_, err = Load[Author, Post](ctx, db, author, "Invalid")
	var nfErr *NotFoundError
	assert.True(t, errors.As(err, &nfErr))
}

func TestLoad_RetryAfterError(t *testing.T) {
	db, mock := mockDB(t)
	registerBlog(t, db)
	ctx := context.Background()

	author := &Author{Id: 1, Name: "Tom"}
	mock.ExpectQuery("SELECT \\* FROM `post` .*").WillReturnError(errors.New("boom"))
	_, err := Load[Author, Post](ctx, db, author, "Posts")
	require.Error(t, err)
	// 失败的加载不能当作没有数据
	assert.False(t, author.Posts.Loaded())

	mock.ExpectQuery("SELECT \\* FROM `post` WHERE `author_id` IN \\(\\?\\) ORDER BY `id`;").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "title", "author_id"}).AddRow(int64(10), "a", int64(1)))
	posts, err := Load[Author, Post](ctx, db, author, "Posts")
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPreload_Batch(t *testing.T) {
	old := preloadBatchSize
	preloadBatchSize = 2
	t.Cleanup(func() {
		preloadBatchSize = old
	})

	testCases := []struct {
		name     string
		relation string
		mock     func(mock sqlmock.Sqlmock)
	}{
		{
			name:     "foreign key",
			relation: "Author",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT \\* FROM `author` WHERE `id` IN \\(\\?,\\?\\) ORDER BY `id`;").
					WithArgs(int64(1), int64(2)).
					WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).
						AddRow(int64(1), "Tom").AddRow(int64(2), "Jerry"))
				mock.ExpectQuery("SELECT \\* FROM `author` WHERE `id` IN \\(\\?\\) ORDER BY `id`;").
					WithArgs(int64(3)).
					WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(int64(3), "Spike"))
			},
		},
		{
			name:     "join table",
			relation: "Labels",
			mock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT .* WHERE `Labels__j`.`post_id` IN \\(\\?,\\?\\) .*").
					WithArgs(int64(10), int64(11)).
					WillReturnRows(sqlmock.NewRows([]string{"id", "name", "__owner"}).
						AddRow(int64(100), "go", int64(10)).
						AddRow(int64(100), "go", int64(11)))
				mock.ExpectQuery("SELECT .* WHERE `Labels__j`.`post_id` IN \\(\\?\\) .*").
					WithArgs(int64(12)).
					WillReturnRows(sqlmock.NewRows([]string{"id", "name", "__owner"}).
						AddRow(int64(100), "go", int64(12)))
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock := mockDB(t)
			registerBlog(t, db)
			tc.mock(mock)

			posts := []*Post{
				{Id: 10, AuthorId: ptr[int64](1)},
				{Id: 11, AuthorId: ptr[int64](2)},
				{Id: 12, AuthorId: ptr[int64](3)},
			}
			require.NoError(t, Preload(context.Background(), db, posts, tc.relation))
			require.NoError(t, mock.ExpectationsWereMet())
			if tc.relation == "Labels" {
				// 不同批次的同一个目标也是同一个实例
				assert.Same(t, posts[0].Labels.First(), posts[2].Labels.First())
				return
			}
			assert.Equal(t, "Spike", posts[2].Author.First().Name)
		})
	}
}
