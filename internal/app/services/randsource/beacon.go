// Package randsource provides the external randomness boundary. A draw
// request is fire-and-forget; fulfilment arrives later through the
// engine's callback carrying a proof that must verify before the value
// is trusted.
package randsource

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"

	"github.com/R3E-Network/lottery_engine/pkg/logger"
)

// Beacon accepts draw requests. RequestDraw must not block on the draw
// itself; the value is delivered asynchronously to the attached Sink.
type Beacon interface {
	RequestDraw(ctx context.Context, upperBound int64, token string) error
}

// Sink receives fulfilled draws. The engine implements this.
type Sink interface {
	OnDrawReceived(ctx context.Context, token string, value int64, proof []byte) error
}

// Verifier checks the proof attached to a fulfilled draw.
type Verifier interface {
	Verify(token string, upperBound, value int64, proof []byte) bool
}

// SignDraw computes the HMAC-SHA256 proof binding a draw value to its
// correlation token and requested range.
func SignDraw(secret []byte, token string, upperBound, value int64) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(token))
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(upperBound))
	binary.BigEndian.PutUint64(buf[8:], uint64(value))
	mac.Write(buf[:])
	return mac.Sum(nil)
}

// HMACVerifier verifies proofs produced by SignDraw with a shared secret.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier for the given shared secret.
func NewHMACVerifier(secret []byte) *HMACVerifier {
	return &HMACVerifier{secret: append([]byte(nil), secret...)}
}

func (v *HMACVerifier) Verify(token string, upperBound, value int64, proof []byte) bool {
	if value < 0 || value >= upperBound {
		return false
	}
	return hmac.Equal(proof, SignDraw(v.secret, token, upperBound, value))
}

// LocalBeacon draws from crypto/rand and fulfils requests on a background
// goroutine, signing each value with the shared secret. It stands in for
// the remote oracle in tests and single-node deployments.
type LocalBeacon struct {
	secret []byte
	log    *logger.Logger
	sink   Sink

	mu      sync.Mutex
	queue   chan drawRequest
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

type drawRequest struct {
	token      string
	upperBound int64
}

// NewLocalBeacon creates a beacon signing with the given secret.
func NewLocalBeacon(secret []byte, log *logger.Logger) *LocalBeacon {
	if log == nil {
		log = logger.NewDefault("randsource")
	}
	return &LocalBeacon{
		secret: append([]byte(nil), secret...),
		log:    log,
		queue:  make(chan drawRequest, 64),
	}
}

// AttachSink sets the fulfilment target. Must be called before Start.
func (b *LocalBeacon) AttachSink(sink Sink) {
	b.sink = sink
}

// RequestDraw queues a draw over [0, upperBound).
func (b *LocalBeacon) RequestDraw(_ context.Context, upperBound int64, token string) error {
	if upperBound <= 0 {
		return fmt.Errorf("upper bound must be positive, got %d", upperBound)
	}
	if token == "" {
		return fmt.Errorf("correlation token required")
	}
	select {
	case b.queue <- drawRequest{token: token, upperBound: upperBound}:
		return nil
	default:
		return fmt.Errorf("draw queue full")
	}
}

// Name implements system.Service.
func (b *LocalBeacon) Name() string { return "randsource" }

// Start launches the fulfilment loop.
func (b *LocalBeacon) Start(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	if b.sink == nil {
		return fmt.Errorf("randsource: no sink attached")
	}
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	b.running = true
	go b.run(ctx)
	return nil
}

// Stop terminates the fulfilment loop and waits for it to exit.
func (b *LocalBeacon) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return nil
	}
	b.running = false
	b.cancel()
	done := b.done
	b.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBeacon) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-b.queue:
			value, err := b.draw(req.upperBound)
			if err != nil {
				b.log.WithError(err).WithField("token", req.token).Error("draw failed")
				continue
			}
			proof := SignDraw(b.secret, req.token, req.upperBound, value)
			if err := b.sink.OnDrawReceived(ctx, req.token, value, proof); err != nil {
				b.log.WithError(err).WithField("token", req.token).Warn("draw fulfilment rejected")
				continue
			}
			b.log.WithField("token", req.token).
				WithField("upper_bound", req.upperBound).
				Debugf("draw fulfilled")
		}
	}
}

func (b *LocalBeacon) draw(upperBound int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(upperBound))
	if err != nil {
		return 0, fmt.Errorf("read randomness: %w", err)
	}
	return n.Int64(), nil
}

// ExpandDraw derives the draw for a secondary split from the primary
// value, the request seed and the split index, reduced into
// [0, upperBound). Split 0 always returns the raw value so single-split
// settlements consume the oracle draw unchanged.
func ExpandDraw(seed []byte, value int64, split int, upperBound int64) int64 {
	if split == 0 || upperBound <= 0 {
		return value
	}
	h := sha256.New()
	h.Write(seed)
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(value))
	binary.BigEndian.PutUint64(buf[8:], uint64(split))
	h.Write(buf[:])
	sum := h.Sum(nil)
	return int64(binary.BigEndian.Uint64(sum[:8]) % uint64(upperBound))
}
