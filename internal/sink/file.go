package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/poolbench/internal/model"
	"github.com/yourorg/poolbench/internal/normalize"
)

// epochStats is the on-disk document for one epoch. Records are kept sorted
// by pool ID so the file is byte-stable across reruns with identical inputs.
type epochStats struct {
	Epoch     model.Epoch                `json:"epoch"`
	Benchmark *normalize.Benchmark       `json:"benchmark,omitempty"`
	Records   []model.CommonMetricRecord `json:"records"`
}

// manifest indexes the emitted epochs for consumers that poll the directory.
type manifest struct {
	Latest model.Epoch   `json:"latest"`
	Epochs []model.Epoch `json:"epochs"`
}

// FileSink writes per-epoch stats files plus a manifest under one directory:
//
//	<root>/stats_<epoch>.json
//	<root>/manifest.json
//
// Writes are atomic (temp file + rename) so readers never observe a partial
// document.
type FileSink struct {
	root string

	mu sync.Mutex
}

func NewFileSink(root string) (*FileSink, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", root, err)
	}
	return &FileSink{root: root}, nil
}

func (s *FileSink) statsPath(epoch model.Epoch) string {
	return filepath.Join(s.root, fmt.Sprintf("stats_%d.json", epoch))
}

func (s *FileSink) Emit(ctx context.Context, record model.CommonMetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.readStats(record.Epoch)
	if err != nil {
		return err
	}

	replaced := false
	for i := range stats.Records {
		if stats.Records[i].PoolID == record.PoolID {
			stats.Records[i] = record
			replaced = true
			break
		}
	}
	if !replaced {
		stats.Records = append(stats.Records, record)
		sort.Slice(stats.Records, func(i, j int) bool {
			return stats.Records[i].PoolID < stats.Records[j].PoolID
		})
	}

	if err := s.writeStats(stats); err != nil {
		return err
	}
	if err := s.updateManifest(record.Epoch); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"pool":     record.PoolID,
		"epoch":    record.Epoch,
		"replaced": replaced,
	}).Debug("Record emitted to file sink")
	return nil
}

func (s *FileSink) EmitBenchmark(ctx context.Context, b normalize.Benchmark) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.readStats(b.Epoch)
	if err != nil {
		return err
	}
	stats.Benchmark = &b
	if err := s.writeStats(stats); err != nil {
		return err
	}
	return s.updateManifest(b.Epoch)
}

func (s *FileSink) ListEmitted(ctx context.Context, epoch model.Epoch) ([]model.RecordKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, err := s.readStats(epoch)
	if err != nil {
		return nil, err
	}
	keys := make([]model.RecordKey, 0, len(stats.Records))
	for _, r := range stats.Records {
		keys = append(keys, r.Key())
	}
	return keys, nil
}

func (s *FileSink) Close() error { return nil }

func (s *FileSink) readStats(epoch model.Epoch) (*epochStats, error) {
	raw, err := os.ReadFile(s.statsPath(epoch))
	if os.IsNotExist(err) {
		return &epochStats{Epoch: epoch, Records: []model.CommonMetricRecord{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read stats for epoch %d: %w", epoch, err)
	}
	var stats epochStats
	if err := json.Unmarshal(raw, &stats); err != nil {
		return nil, fmt.Errorf("parse stats for epoch %d: %w", epoch, err)
	}
	return &stats, nil
}

func (s *FileSink) writeStats(stats *epochStats) error {
	raw, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal stats for epoch %d: %w", stats.Epoch, err)
	}
	return atomicWrite(s.statsPath(stats.Epoch), raw)
}

func (s *FileSink) updateManifest(epoch model.Epoch) error {
	path := filepath.Join(s.root, "manifest.json")

	var m manifest
	if raw, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("parse manifest: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("read manifest: %w", err)
	}

	for _, e := range m.Epochs {
		if e == epoch {
			return nil
		}
	}
	m.Epochs = append(m.Epochs, epoch)
	sort.Slice(m.Epochs, func(i, j int) bool { return m.Epochs[i] < m.Epochs[j] })
	m.Latest = m.Epochs[len(m.Epochs)-1]

	raw, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	return atomicWrite(path, raw)
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
