package repo

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/Taskrunner/internal/store"
)

// Store — хранилище попыток и flow runs в PostgreSQL.
//
// Compare-and-swap по колонке version; SaveOrReload строится на store.Reconcile.
type Store struct {
	*TaskRunRepo
	*FlowRunRepo
}

var _ store.Store = (*Store)(nil)

// NewStore создаёт Store поверх пула.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		TaskRunRepo: NewTaskRunRepo(pool),
		FlowRunRepo: NewFlowRunRepo(pool),
	}
}
