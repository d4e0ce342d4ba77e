package venue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aristath/dlmm-sentinel/internal/domain"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
)

const (
	dialTimeout        = 30 * time.Second
	writeWait          = 10 * time.Second
	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 5 * time.Minute
)

// wireSnapshot is the wire shape published by the telemetry feed for one
// pool's snapshot message.
type wireSnapshot struct {
	Pool           string             `json:"pool"`
	ActiveBin      int                `json:"activeBin"`
	TotalLiquidity float64            `json:"totalLiquidity"`
	LiquidityUSD   float64            `json:"liquidityUsd"`
	Velocity       float64            `json:"velocity"`
	Bins           map[string]wireBin `json:"bins"`
}

type wireBin struct {
	Liquidity float64 `json:"liquidity"`
	SwapCount int     `json:"swapCount"`
}

// wirePoolDescriptor is the wire shape of one entry in a pool-listing
// message.
type wirePoolDescriptor struct {
	Address   string  `json:"address"`
	Name      string  `json:"name"`
	MintX     string  `json:"mintX"`
	MintY     string  `json:"mintY"`
	BinStepBp int     `json:"binStep"`
	BaseFee   float64 `json:"baseFee"`
	CreatedAt int64   `json:"createdAt"` // unix seconds
	Volume1h  float64 `json:"volume1h"`
	Volume4h  float64 `json:"volume4h"`
	Volume24h float64 `json:"volume24h"`
	Fees24h   float64 `json:"fees24h"`
	Liquidity float64 `json:"liquidity"`
	APR       float64 `json:"apr"`
}

// createHTTP1Client forces HTTP/1.1 via ALPN; required when the telemetry
// endpoint sits behind a proxy that would otherwise negotiate HTTP/2, which
// nhooyr.io/websocket cannot upgrade from.
func createHTTP1Client() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSClientConfig: &tls.Config{
				NextProtos: []string{"http/1.1"},
			},
			ForceAttemptHTTP2: false,
		},
	}
}

// LiveTelemetrySource is a websocket-fed TelemetrySource: it maintains a
// cache of the latest pool listing and per-pool snapshots, refreshed from
// an inbound message stream, with an HTTP/1.1-forced dial and a
// stop-chan + reconnect-loop lifecycle.
type LiveTelemetrySource struct {
	url        string
	httpClient *http.Client
	log        zerolog.Logger

	mu       sync.RWMutex
	conn     *websocket.Conn
	stopChan chan struct{}
	stopped  bool

	cacheMu     sync.RWMutex
	pools       []domain.PoolDescriptor
	snapshots   map[domain.PoolAddress]domain.Snapshot
}

// NewLiveTelemetrySource creates a telemetry client for the given websocket
// URL. Call Start to dial and begin streaming.
func NewLiveTelemetrySource(url string, log zerolog.Logger) *LiveTelemetrySource {
	return &LiveTelemetrySource{
		url:        url,
		httpClient: createHTTP1Client(),
		log:        log.With().Str("component", "live_telemetry_source").Logger(),
		stopChan:   make(chan struct{}),
		snapshots:  make(map[domain.PoolAddress]domain.Snapshot),
	}
}

// Start dials the telemetry feed and begins the background read/reconnect
// loop. A failed initial dial does not abort startup, it falls back to
// the reconnect loop.
func (s *LiveTelemetrySource) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		s.log.Warn().Err(err).Msg("initial telemetry websocket connection failed, retrying in background")
		go s.reconnectLoop(ctx)
		return err
	}
	go s.readLoop(ctx)
	return nil
}

// Stop closes the connection and halts the read/reconnect loops.
func (s *LiveTelemetrySource) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	conn := s.conn
	s.mu.Unlock()

	close(s.stopChan)
	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "")
	}
	return nil
}

func (s *LiveTelemetrySource) connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, s.url, &websocket.DialOptions{HTTPClient: s.httpClient})
	if err != nil {
		return fmt.Errorf("dial telemetry websocket: %w", err)
	}
	s.conn = conn
	s.log.Info().Str("url", s.url).Msg("connected to telemetry feed")
	return nil
}

func (s *LiveTelemetrySource) reconnectLoop(ctx context.Context) {
	delay := baseReconnectDelay
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := s.connect(ctx); err != nil {
			s.log.Warn().Err(err).Dur("next_retry", delay).Msg("telemetry reconnect failed")
			delay *= 2
			if delay > maxReconnectDelay {
				delay = maxReconnectDelay
			}
			continue
		}

		delay = baseReconnectDelay
		go s.readLoop(ctx)
		return
	}
}

func (s *LiveTelemetrySource) readLoop(ctx context.Context) {
	defer func() {
		s.mu.RLock()
		stopped := s.stopped
		s.mu.RUnlock()
		if !stopped {
			go s.reconnectLoop(ctx)
		}
	}()

	for {
		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
			}
			s.log.Warn().Err(err).Msg("telemetry read failed")
			return
		}
		s.ingest(data)
	}
}

// envelope discriminates the two message shapes the feed publishes.
type envelope struct {
	Type      string               `json:"type"`
	Pools     []wirePoolDescriptor `json:"pools,omitempty"`
	Snapshot  *wireSnapshot        `json:"snapshot,omitempty"`
}

func (s *LiveTelemetrySource) ingest(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.log.Warn().Err(err).Msg("malformed telemetry message")
		return
	}

	switch env.Type {
	case "pools":
		pools := make([]domain.PoolDescriptor, 0, len(env.Pools))
		for _, p := range env.Pools {
			pools = append(pools, domain.PoolDescriptor{
				Address:      domain.PoolAddress(p.Address),
				Name:         p.Name,
				MintX:        p.MintX,
				MintY:        p.MintY,
				BinStepBp:    p.BinStepBp,
				BaseFee:      p.BaseFee,
				CreatedAt:    time.Unix(p.CreatedAt, 0),
				Volume1h:     p.Volume1h,
				Volume4h:     p.Volume4h,
				Volume24h:    p.Volume24h,
				Fees24h:      p.Fees24h,
				LiquidityUSD: p.Liquidity,
				APR:          p.APR,
			})
		}
		s.cacheMu.Lock()
		s.pools = pools
		s.cacheMu.Unlock()

	case "snapshot":
		if env.Snapshot == nil {
			return
		}
		ws := env.Snapshot
		dist := make(map[int]domain.BinState, len(ws.Bins))
		for binID, b := range ws.Bins {
			id, err := parseBinID(binID)
			if err != nil {
				continue
			}
			dist[id] = domain.BinState{Liquidity: b.Liquidity, SwapCount: b.SwapCount}
		}
		snap := domain.Snapshot{
			FetchedAt:      time.Now(),
			ActiveBin:      ws.ActiveBin,
			TotalLiquidity: ws.TotalLiquidity,
			LiquidityUSD:   ws.LiquidityUSD,
			Velocity:       ws.Velocity,
			Distribution:   dist,
		}
		s.cacheMu.Lock()
		s.snapshots[domain.PoolAddress(ws.Pool)] = snap
		s.cacheMu.Unlock()
	}
}

func parseBinID(s string) (int, error) {
	var id int
	_, err := fmt.Sscanf(s, "%d", &id)
	return id, err
}

// ListPools implements TelemetrySource from the cache populated by the
// background read loop.
func (s *LiveTelemetrySource) ListPools(ctx context.Context) ([]domain.PoolDescriptor, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	out := make([]domain.PoolDescriptor, len(s.pools))
	copy(out, s.pools)
	return out, nil
}

// Snapshot implements TelemetrySource from the cache populated by the
// background read loop.
func (s *LiveTelemetrySource) Snapshot(ctx context.Context, pool domain.PoolAddress) (domain.Snapshot, error) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	snap, ok := s.snapshots[pool]
	if !ok {
		return domain.Snapshot{}, fmt.Errorf("no cached snapshot for pool %s", pool)
	}
	return snap, nil
}
