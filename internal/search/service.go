package search

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Index is the write side of a search backend.
type Index interface {
	IndexBoards(boards []BoardRecord) error
	IndexTasks(tasks []TaskRecord) error
	DeleteBoard(id string) error
	DeleteBoardTasks(boardID string) error
	DeleteTask(id string) error
}

type primary interface {
	Searcher
	Index
}

// Service tries Meilisearch first and falls back to PG FTS. Index writes run
// in the background; Close waits for the ones in flight.
type Service struct {
	primary primary
	pgfts   Searcher
	log     *zap.Logger
	wg      sync.WaitGroup
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS, logger *zap.Logger) *Service {
	s := &Service{pgfts: pgfts, log: logger.Named("search")}
	if meili != nil {
		s.primary = meili
	}
	return s
}

func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		s.log.Warn("meilisearch failed, falling back to pgfts", zap.Error(err))
	}

	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		s.log.Error("pgfts search failed", zap.String("query", q.Text), zap.Error(err))
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

func (s *Service) background(op, id string, fn func(Index) error) {
	if s.primary == nil || !s.primary.Healthy() {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(s.primary); err != nil {
			s.log.Warn("index write failed", zap.String("op", op), zap.String("id", id), zap.Error(err))
		}
	}()
}

func (s *Service) IndexBoard(b BoardRecord) {
	s.background("index board", b.ID, func(ix Index) error { return ix.IndexBoards([]BoardRecord{b}) })
}

func (s *Service) IndexTask(t TaskRecord) {
	s.background("index task", t.ID, func(ix Index) error { return ix.IndexTasks([]TaskRecord{t}) })
}

// DeleteBoard removes the board and all of its tasks from the index.
func (s *Service) DeleteBoard(id string) {
	s.background("delete board", id, func(ix Index) error {
		if err := ix.DeleteBoard(id); err != nil {
			return err
		}
		return ix.DeleteBoardTasks(id)
	})
}

func (s *Service) DeleteTask(id string) {
	s.background("delete task", id, func(ix Index) error { return ix.DeleteTask(id) })
}

// ReindexAllFromPG pushes every board and task from PostgreSQL into
// Meilisearch. It runs synchronously and reports how many records it sent.
func (s *Service) ReindexAllFromPG(ctx context.Context, pg *PgFTS) (int, error) {
	if s.primary == nil || !s.primary.Healthy() {
		return 0, errUnhealthy
	}
	boards, tasks, err := pg.LoadAllRecords(ctx)
	if err != nil {
		return 0, err
	}
	if err := s.primary.IndexBoards(boards); err != nil {
		return 0, err
	}
	if err := s.primary.IndexTasks(tasks); err != nil {
		return len(boards), err
	}
	return len(boards) + len(tasks), nil
}

// Close waits for background index writes.
func (s *Service) Close() {
	s.wg.Wait()
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
