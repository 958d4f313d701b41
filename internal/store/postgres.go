package store

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres stores jobs in PostgreSQL through the pgx database/sql driver.
type Postgres struct {
	*sqlStore
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Postgres{sqlStore: &sqlStore{db: db, dialect: dialectPostgres}}, nil
}

// OpenPostgres connects and migrates.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	p, err := NewPostgres(dsn)
	if err != nil {
		return nil, err
	}
	if err := p.Migrate(ctx); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}
