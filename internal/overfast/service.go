package overfast

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/owmeta/stats-api/internal/clock"
	"github.com/owmeta/stats-api/internal/models"
)

// Fetcher returns raw player documents.
type Fetcher interface {
	FetchPlayer(ctx context.Context, battletag string) ([]byte, error)
}

// Publisher sends fetched documents to the ingest queue.
type Publisher interface {
	Publish(ctx context.Context, msg models.FetchMessage) error
}

// Outcome statuses for batch fetches.
const (
	StatusQueued      = "queued"
	StatusNotFound    = "not_found"
	StatusRateLimited = "rate_limited"
	StatusMalformed   = "malformed"
	StatusInvalid     = "invalid"
	StatusFailed      = "failed"
)

// Outcome reports what happened to one player in a batch fetch.
type Outcome struct {
	Battletag string `json:"battletag"`
	Platform  string `json:"platform"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// ErrInvalidRef marks a battletag/platform pair that failed validation.
var ErrInvalidRef = errors.New("invalid player reference")

// Service fetches player documents and publishes them for ingestion.
type Service struct {
	fetcher     Fetcher
	publisher   Publisher
	validate    *validator.Validate
	clock       clock.Clock
	concurrency int
	logger      *zap.SugaredLogger
}

func NewService(fetcher Fetcher, publisher Publisher, concurrency int, c clock.Clock, logger *zap.Logger) *Service {
	if concurrency <= 0 {
		concurrency = 4
	}
	if c == nil {
		c = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher:     fetcher,
		publisher:   publisher,
		validate:    validator.New(),
		clock:       c,
		concurrency: concurrency,
		logger:      logger.Sugar(),
	}
}

// FetchAndPublish fetches one player and publishes the document stamped with
// the fetch time. Upstream failures are returned classified; nothing is
// published for them.
func (s *Service) FetchAndPublish(ctx context.Context, ref models.PlayerRef) error {
	ref.Battletag = models.CanonicalBattletag(ref.Battletag)
	ref.Platform = models.NormalizePlatform(ref.Platform)
	if err := s.validate.Struct(ref); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRef, err)
	}

	body, err := s.fetcher.FetchPlayer(ctx, ref.Battletag)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			s.logger.Warnw("player not found upstream", "battletag", ref.Battletag, "platform", ref.Platform)
		case errors.Is(err, ErrMalformed):
			s.logger.Warnw("dropping malformed upstream response", "battletag", ref.Battletag, "error", err)
		default:
			s.logger.Errorw("upstream fetch failed", "battletag", ref.Battletag, "error", err)
		}
		return err
	}

	msg := models.FetchMessage{
		Battletag:      ref.Battletag,
		Platform:       ref.Platform,
		RawJSON:        string(body),
		FetchTimestamp: s.clock.Now().UTC(),
	}
	if err := s.publisher.Publish(ctx, msg); err != nil {
		s.logger.Errorw("failed to publish fetched player", "battletag", ref.Battletag, "error", err)
		return fmt.Errorf("publish %s: %w", ref.Battletag, err)
	}

	s.logger.Infow("player fetched and queued", "battletag", ref.Battletag, "platform", ref.Platform, "bytes", len(body))
	return nil
}

// FetchAndPublishMany fetches players concurrently. A failure for one player
// does not stop the others. Outcomes are sorted by battletag.
func (s *Service) FetchAndPublishMany(ctx context.Context, refs []models.PlayerRef) ([]Outcome, error) {
	if len(refs) == 0 {
		return nil, nil
	}

	pool, err := ants.NewPool(s.concurrency)
	if err != nil {
		return nil, fmt.Errorf("create fetch pool: %w", err)
	}
	defer pool.Release()

	var (
		mu       sync.Mutex
		outcomes = make([]Outcome, 0, len(refs))
		wg       sync.WaitGroup
	)

	for _, ref := range refs {
		ref := ref
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			err := s.FetchAndPublish(ctx, ref)
			out := Outcome{
				Battletag: models.CanonicalBattletag(ref.Battletag),
				Platform:  models.NormalizePlatform(ref.Platform),
				Status:    StatusFor(err),
			}
			if err != nil {
				out.Error = err.Error()
			}
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
		}); err != nil {
			wg.Done()
			return nil, fmt.Errorf("submit fetch task: %w", err)
		}
	}
	wg.Wait()

	sort.SliceStable(outcomes, func(i, j int) bool {
		if outcomes[i].Battletag != outcomes[j].Battletag {
			return outcomes[i].Battletag < outcomes[j].Battletag
		}
		return outcomes[i].Platform < outcomes[j].Platform
	})

	s.logger.Infow("batch fetch completed", "players", len(refs))
	return outcomes, nil
}

// StatusFor maps a FetchAndPublish error onto an outcome status.
func StatusFor(err error) string {
	switch {
	case err == nil:
		return StatusQueued
	case errors.Is(err, ErrInvalidRef):
		return StatusInvalid
	case errors.Is(err, ErrNotFound):
		return StatusNotFound
	case errors.Is(err, ErrRateLimited):
		return StatusRateLimited
	case errors.Is(err, ErrMalformed):
		return StatusMalformed
	default:
		return StatusFailed
	}
}
