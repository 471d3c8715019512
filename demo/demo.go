// Copyright 2024 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Command demo runs a small blog workload through a statement builder: users
// write posts and comment on them.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/canonical/sqlfluent"
)

type User struct {
	ID    int64  `db:"id,omitempty"`
	Name  string `db:"name"`
	Email string `db:"email"`
}

type Post struct {
	ID      int64  `db:"id,omitempty"`
	UserID  int64  `db:"user_id"`
	Title   string `db:"title"`
	Content string `db:"content"`
}

var schemas = map[string][]string{
	"sqlite3": {
		`CREATE TABLE IF NOT EXISTS users (id integer PRIMARY KEY AUTOINCREMENT, name text, email text)`,
		`CREATE TABLE IF NOT EXISTS posts (id integer PRIMARY KEY AUTOINCREMENT, user_id integer, title text, content text)`,
		`CREATE TABLE IF NOT EXISTS comments (id integer PRIMARY KEY AUTOINCREMENT, post_id integer, user_id integer, comment text)`,
	},
	"mysql": {
		`CREATE TABLE IF NOT EXISTS users (id INT AUTO_INCREMENT PRIMARY KEY, name VARCHAR(255), email VARCHAR(255))`,
		`CREATE TABLE IF NOT EXISTS posts (id INT AUTO_INCREMENT PRIMARY KEY, user_id INT, title VARCHAR(255), content TEXT)`,
		`CREATE TABLE IF NOT EXISTS comments (id INT AUTO_INCREMENT PRIMARY KEY, post_id INT, user_id INT, comment TEXT)`,
	},
	"postgres": {
		`CREATE TABLE IF NOT EXISTS users (id SERIAL PRIMARY KEY, name TEXT, email TEXT)`,
		`CREATE TABLE IF NOT EXISTS posts (id SERIAL PRIMARY KEY, user_id INT, title TEXT, content TEXT)`,
		`CREATE TABLE IF NOT EXISTS comments (id SERIAL PRIMARY KEY, post_id INT, user_id INT, comment TEXT)`,
	},
}

// blog runs the demo statements and writes what they did to out.
type blog struct {
	cfg Config
	b   *sqlfluent.Builder
	out io.Writer
}

// insert stores data into table and returns the new row id. PostgreSQL has
// no last insert id, so the id is read back with RETURNING.
func (bl *blog) insert(ctx context.Context, b *sqlfluent.Builder, table string, data any) (int64, error) {
	if bl.cfg.Driver != "postgres" {
		return b.Insert(table, data).InsertID(ctx)
	}
	row, err := b.Insert(table, data).Returning("id").First(ctx)
	if err != nil {
		return 0, err
	}
	id, _ := row["id"].(int64)
	return id, nil
}

func (bl *blog) seed(ctx context.Context) error {
	for _, ddl := range schemas[bl.cfg.Driver] {
		if _, err := bl.b.Reset().RawSQL(ddl).Affected(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (bl *blog) printRows(title string, rows []sqlfluent.M) {
	fmt.Fprintf(bl.out, "%s:\n", title)
	for _, row := range rows {
		fmt.Fprintf(bl.out, "  %v\n", row)
	}
}

func (bl *blog) run(ctx context.Context) error {
	b := bl.b

	userID, err := bl.insert(ctx, b, "users", User{Name: "Elfesya Esen", Email: "elfesya@gmail.com"})
	if err != nil {
		return err
	}
	fmt.Fprintf(bl.out, "inserted user %d\n", userID)

	n, err := b.UpdateWhere("users", sqlfluent.M{"email": "elfesya@example.com"}, "id", userID).Affected(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(bl.out, "updated %d user(s)\n", n)

	postID, err := bl.insert(ctx, b, "posts", Post{UserID: userID, Title: "First post", Content: "This is my first post."})
	if err != nil {
		return err
	}
	fmt.Fprintf(bl.out, "inserted post %d\n", postID)

	commentID, err := bl.insert(ctx, b, "comments", sqlfluent.M{"post_id": postID, "user_id": userID, "comment": "Great post!"})
	if err != nil {
		return err
	}
	fmt.Fprintf(bl.out, "inserted comment %d\n", commentID)

	posts, err := b.Select().From("posts").Get(ctx)
	if err != nil {
		return err
	}
	bl.printRows("all posts", posts)

	var userPosts []Post
	err = b.Select().From("posts").Where("user_id", sqlfluent.Equals, userID).GetInto(ctx, &userPosts)
	if err != nil {
		return err
	}
	fmt.Fprintf(bl.out, "user %d wrote %d post(s)\n", userID, len(userPosts))

	comments, err := b.Select("comments.comment", "users.name").
		From("comments").
		InnerJoin("users", "comments.user_id", sqlfluent.Equals, "users.id").
		Where("comments.post_id", sqlfluent.Equals, postID).
		Get(ctx)
	if err != nil {
		return err
	}
	bl.printRows("comments on the post", comments)

	page, err := b.Select("id", "title").From("posts").OrderByDesc("id").Paginate(1, 10).Get(ctx)
	if err != nil {
		return err
	}
	bl.printRows("posts, page 1", page)

	err = b.Transaction(ctx, func(tb *sqlfluent.Builder) error {
		id, err := bl.insert(ctx, tb, "users", User{Name: "Test Demir", Email: "demir@example.com"})
		if err != nil {
			return err
		}
		_, err = bl.insert(ctx, tb, "posts", Post{UserID: id, Title: "Transaction example", Content: "Written in a transaction."})
		return err
	})
	if err != nil {
		fmt.Fprintf(bl.out, "transaction rolled back: %v\n", err)
	} else {
		fmt.Fprintln(bl.out, "transaction committed")
	}

	b.Select("name").From("users")
	sub := b.Sub().Select("user_id").From("posts")
	lurkers, err := b.WhereSub("id", sqlfluent.NotIn, sub).Get(ctx)
	if err != nil {
		return err
	}
	bl.printRows("users without posts", lurkers)

	n, err = b.Delete("posts").Where("id", sqlfluent.Equals, postID).Affected(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(bl.out, "deleted %d post(s)\n", n)

	n, err = b.Delete("users").Where("id", sqlfluent.Equals, userID).Affected(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(bl.out, "deleted %d user(s)\n", n)
	return nil
}

func run(cfg Config, out io.Writer) error {
	logger, err := cfg.Logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return err
	}
	defer sqldb.Close()
	if cfg.Driver == "sqlite3" {
		// Every connection to an in-memory database sees its own database.
		sqldb.SetMaxOpenConns(1)
	}

	db := sqlfluent.NewDB(sqldb, cfg.Options(logger)...)
	defer db.Close()

	bl := &blog{cfg: cfg, b: db.Builder(), out: out}
	ctx := context.Background()
	if cfg.Seed {
		if err := bl.seed(ctx); err != nil {
			return err
		}
	}
	if err := bl.run(ctx); err != nil {
		logger.Error("demo failed", zap.Error(err))
		return err
	}
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "demo: %v\n", err)
		os.Exit(1)
	}
}
