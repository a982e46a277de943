package badger

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/kirillkom/docs-answer-engine/internal/core/ports"
)

// Open opens a badger store at dir. An empty dir keeps it in memory.
func Open(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return db, nil
}

// CachedEmbedder memoizes embeddings per model and text. Cache faults never fail a call.
type CachedEmbedder struct {
	inner    ports.Embedder
	db       *badger.DB
	model    string
	ttl      time.Duration
	logger   *slog.Logger
	observer func(hit bool)
}

func NewCachedEmbedder(inner ports.Embedder, db *badger.DB, model string, ttl time.Duration, logger *slog.Logger) *CachedEmbedder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &CachedEmbedder{
		inner:  inner,
		db:     db,
		model:  model,
		ttl:    ttl,
		logger: logger.With("component", "embedding_cache"),
	}
}

// WithObserver reports every lookup as a hit or a miss.
func (c *CachedEmbedder) WithObserver(observer func(hit bool)) *CachedEmbedder {
	c.observer = observer
	return c
}

func (c *CachedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (c *CachedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, len(texts))
	var missing []int

	err := c.db.View(func(txn *badger.Txn) error {
		for i, text := range texts {
			item, err := txn.Get(c.key(text))
			if errors.Is(err, badger.ErrKeyNotFound) {
				missing = append(missing, i)
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				vec, decodeErr := decodeVector(val)
				out[i] = vec
				return decodeErr
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("embedding_cache_read_failed", "error", err)
		missing = missing[:0]
		for i := range texts {
			missing = append(missing, i)
		}
	}
	c.observe(len(texts)-len(missing), len(missing))
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vectors, err := c.inner.Embed(ctx, pending)
	if err != nil {
		return nil, err
	}
	if len(vectors) != len(pending) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(pending))
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		for j, i := range missing {
			out[i] = vectors[j]
			entry := badger.NewEntry(c.key(texts[i]), encodeVector(vectors[j]))
			if c.ttl > 0 {
				entry = entry.WithTTL(c.ttl)
			}
			if err := txn.SetEntry(entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("embedding_cache_write_failed", "error", err)
		for j, i := range missing {
			out[i] = vectors[j]
		}
	}
	return out, nil
}

func (c *CachedEmbedder) observe(hits, misses int) {
	if c.observer == nil {
		return
	}
	for i := 0; i < hits; i++ {
		c.observer(true)
	}
	for i := 0; i < misses; i++ {
		c.observer(false)
	}
}

func (c *CachedEmbedder) key(text string) []byte {
	sum := sha256.Sum256([]byte(text))
	return []byte("emb:" + c.model + ":" + hex.EncodeToString(sum[:]))
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(raw []byte) ([]float32, error) {
	if len(raw)%4 != 0 {
		return nil, fmt.Errorf("corrupt cached embedding of %d bytes", len(raw))
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return vec, nil
}
