package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/Additional-Code/tally/internal/cache"
	core "github.com/Additional-Code/tally/internal/settlement"
)

// SplitSessionKey is the cache key of a table's by-people split.
func SplitSessionKey(table int) string {
	return fmt.Sprintf("tables:%d:split", table)
}

// loadSplit returns the active split for table, or nil. Cache failures are
// logged and treated as a miss: the share is then recomputed from the
// original total.
func (s *Service) loadSplit(ctx context.Context, table int) *core.Split {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, SplitSessionKey(table))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("split session read failed", zap.Int("table", table), zap.Error(err))
		}
		return nil
	}
	var split core.Split
	if err := json.Unmarshal(raw, &split); err != nil {
		s.logger.Warn("split session decode failed", zap.Int("table", table), zap.Error(err))
		return nil
	}
	return &split
}

func (s *Service) storeSplit(ctx context.Context, table int, split core.Split) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(split)
	if err != nil {
		s.logger.Error("split session encode failed", zap.Int("table", table), zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, SplitSessionKey(table), raw, s.splitTTL); err != nil {
		s.logger.Warn("split session write failed", zap.Int("table", table), zap.Error(err))
	}
}

func (s *Service) clearSplit(ctx context.Context, table int) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, SplitSessionKey(table)); err != nil {
		s.logger.Warn("split session delete failed", zap.Int("table", table), zap.Error(err))
	}
}
