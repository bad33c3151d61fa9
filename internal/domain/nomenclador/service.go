package nomenclador

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultCatalogTTL bounds how long a loaded catalog is served before it is
// read again.
const DefaultCatalogTTL = 10 * time.Minute

type Service struct {
	repo Repository
	ttl  time.Duration
	log  zerolog.Logger
	now  func() time.Time

	mu       sync.Mutex
	catalog  *Catalog
	loadedAt time.Time
}

func NewService(repo Repository, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCatalogTTL
	}
	return &Service{
		repo: repo,
		ttl:  ttl,
		log:  logger.With().Str("component", "nomenclador").Logger(),
		now:  time.Now,
	}
}

// Catalog returns the cached catalog, loading it when absent or expired. A
// failed reload keeps serving the previous catalog.
func (s *Service) Catalog(ctx context.Context) (*Catalog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.catalog != nil && s.now().Sub(s.loadedAt) < s.ttl {
		return s.catalog, nil
	}
	entries, err := s.repo.ListAll(ctx)
	if err != nil {
		if s.catalog != nil {
			s.log.Warn().Err(err).Msg("catalog reload failed, serving cached copy")
			return s.catalog, nil
		}
		return nil, fmt.Errorf("load nomenclador: %w", err)
	}
	s.catalog = NewCatalog(entries)
	s.loadedAt = s.now()
	s.log.Debug().Int("entries", s.catalog.Len()).Msg("catalog loaded")
	return s.catalog, nil
}

// Invalidate forces the next Catalog call to reload.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.loadedAt = time.Time{}
	s.mu.Unlock()
}

func (s *Service) Search(ctx context.Context, q string) ([]Entry, error) {
	c, err := s.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	return c.Search(q), nil
}

func (s *Service) Get(ctx context.Context, code string) (Entry, error) {
	c, err := s.Catalog(ctx)
	if err != nil {
		return Entry{}, err
	}
	e, ok := c.Lookup(code)
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrUnknownCode, NormalizeCode(code))
	}
	return e, nil
}

// EstimateRequest lists codes explicitly, as free text to extract them
// from, or both.
type EstimateRequest struct {
	Codes []string `json:"codes"`
	Text  string   `json:"text"`
}

// Estimate prices the requested codes at the current price factor.
func (s *Service) Estimate(ctx context.Context, req EstimateRequest) (Estimate, error) {
	c, err := s.Catalog(ctx)
	if err != nil {
		return Estimate{}, err
	}
	factor, err := s.repo.GetPriceFactor(ctx)
	if err != nil {
		return Estimate{}, fmt.Errorf("get price factor: %w", err)
	}
	codes := append(append([]string(nil), req.Codes...), ExtractCodes(req.Text)...)
	return c.Estimate(codes, factor), nil
}

func (s *Service) PriceFactor(ctx context.Context) (int64, error) {
	return s.repo.GetPriceFactor(ctx)
}

// SetPriceFactor stores factor rounded to the nearest integer. Factors that
// round to zero or less are rejected.
func (s *Service) SetPriceFactor(ctx context.Context, factor float64) (int64, error) {
	if math.IsNaN(factor) || math.IsInf(factor, 0) {
		return 0, ErrInvalidFactor
	}
	rounded := int64(math.Round(factor))
	if rounded <= 0 {
		return 0, ErrInvalidFactor
	}
	saved, err := s.repo.SetPriceFactor(ctx, rounded)
	if err != nil {
		return 0, err
	}
	s.log.Info().Int64("factor", saved).Msg("price factor updated")
	return saved, nil
}
