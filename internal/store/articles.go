package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/errors"

	"github.com/ibeckermayer/notedraft/internal/failure"
	"github.com/ibeckermayer/notedraft/internal/types"
)

var articleColumns = []string{"account_id", "id", "title", "body", "topic", "trend_keyword", "posted", "posted_at", "created_at"}

// AddArticle stores a new article under the next id for its account and
// returns it with ID and CreatedAt filled in.
func (s *Store) AddArticle(ctx context.Context, a types.Article) (types.Article, error) {
	if a.AccountID == "" {
		return types.Article{}, errors.New("account id is required")
	}
	if strings.TrimSpace(a.Title) == "" && strings.TrimSpace(a.Body) == "" {
		return types.Article{}, errors.New("article has neither title nor body")
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Article{}, err
	}
	defer tx.Rollback()

	query, args, err := sq.Select("COALESCE(MAX(id), 0) + 1").From("articles").
		Where(sq.Eq{"account_id": a.AccountID}).ToSql()
	if err != nil {
		return types.Article{}, err
	}
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&a.ID); err != nil {
		return types.Article{}, err
	}

	query, args, err = sq.Insert("articles").Columns(articleColumns...).
		Values(a.AccountID, a.ID, a.Title, a.Body, a.Topic, a.TrendKeyword,
			a.Posted, formatTimePtr(a.PostedAt), formatTime(a.CreatedAt)).ToSql()
	if err != nil {
		return types.Article{}, err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return types.Article{}, err
	}
	return a, tx.Commit()
}

// GetArticle returns one article. A missing article is an ArticleNotFound failure.
func (s *Store) GetArticle(ctx context.Context, accountID string, id int64) (types.Article, error) {
	rows, err := s.query(ctx, sq.Select(articleColumns...).From("articles").
		Where(sq.Eq{"account_id": accountID, "id": id}))
	if err != nil {
		return types.Article{}, err
	}
	defer rows.Close()

	articles, err := scanArticles(rows)
	if err != nil {
		return types.Article{}, err
	}
	if len(articles) == 0 {
		return types.Article{}, failure.Newf(failure.KindArticleNotFound, "article %d not found for account %s", id, accountID)
	}
	return articles[0], nil
}

// ListArticles returns the account's articles, newest first.
func (s *Store) ListArticles(ctx context.Context, accountID string) ([]types.Article, error) {
	rows, err := s.query(ctx, sq.Select(articleColumns...).From("articles").
		Where(sq.Eq{"account_id": accountID}).OrderBy("id DESC"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// UpdateArticle rewrites an article's title and body.
func (s *Store) UpdateArticle(ctx context.Context, accountID string, id int64, title, body string) error {
	res, err := s.exec(ctx, sq.Update("articles").
		Set("title", title).
		Set("body", body).
		Where(sq.Eq{"account_id": accountID, "id": id}))
	if err != nil {
		return err
	}
	if err := mustAffect(res, "article"); err != nil {
		return failure.Mark(err, failure.KindArticleNotFound)
	}
	return nil
}

// MarkPosted flags an article as posted at the given time.
func (s *Store) MarkPosted(ctx context.Context, accountID string, id int64, at time.Time) error {
	res, err := s.exec(ctx, sq.Update("articles").
		Set("posted", true).
		Set("posted_at", formatTime(at)).
		Where(sq.Eq{"account_id": accountID, "id": id}))
	if err != nil {
		return err
	}
	if err := mustAffect(res, "article"); err != nil {
		return failure.Mark(err, failure.KindArticleNotFound)
	}
	return nil
}

// DeleteArticle removes an article. Outcomes that referenced it are kept.
func (s *Store) DeleteArticle(ctx context.Context, accountID string, id int64) error {
	res, err := s.exec(ctx, sq.Delete("articles").Where(sq.Eq{"account_id": accountID, "id": id}))
	if err != nil {
		return err
	}
	if err := mustAffect(res, "article"); err != nil {
		return failure.Mark(err, failure.KindArticleNotFound)
	}
	return nil
}

func scanArticles(rows *sql.Rows) ([]types.Article, error) {
	var out []types.Article
	for rows.Next() {
		var (
			a         types.Article
			postedAt  sql.NullString
			createdAt string
		)
		err := rows.Scan(&a.AccountID, &a.ID, &a.Title, &a.Body, &a.Topic, &a.TrendKeyword,
			&a.Posted, &postedAt, &createdAt)
		if err != nil {
			return nil, err
		}
		if a.PostedAt, err = parseNullTime(postedAt); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
