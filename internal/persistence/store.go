// Package persistence mirrors in-progress survey answers to a key/value store
// with debounced writes, quota fallbacks and tolerant loading.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	apperrors "swot-insights/internal/common/errors"
	"swot-insights/internal/common/logger"
	"swot-insights/internal/common/metrics"
	"swot-insights/internal/models"
)

const (
	primarySuffix = "form"
	minimalSuffix = "form_minimal"
)

// Source tells which recovery path produced a load.
type Source string

const (
	SourcePrimary Source = "primary"
	SourceMinimal Source = "minimal"
	SourceLegacy  Source = "legacy"
	SourceEmpty   Source = "empty"
)

// FieldCatalog spreads a legacy flat record of question keys over the steps
// that ask them, returning the keys no step claims.
type FieldCatalog interface {
	Distribute(flat map[string]interface{}) (models.Answers, []string)
}

type Options struct {
	Prefix           string
	DebounceWindow   time.Duration
	StaleAfter       time.Duration
	MaxEnvelopeBytes int
	SchemaVersion    string
	Fields           FieldCatalog
	Logger           logger.Logger
	Now              func() time.Time
}

func (o *Options) applyDefaults() {
	if o.Prefix == "" {
		o.Prefix = "swot_insights:"
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = 2 * time.Second
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 14 * 24 * time.Hour
	}
	if o.SchemaVersion == "" {
		o.SchemaVersion = "2"
	}
	if o.Logger == nil {
		o.Logger = logger.NewNoOpLogger()
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// LoadResult is what Load recovered.
type LoadResult struct {
	Answers       models.Answers
	SavedAt       time.Time
	SchemaVersion string
	// Stale is informational; stale data is still returned and kept.
	Stale  bool
	Source Source
}

// Store persists one owner's answers. Keys live under <prefix><owner>:.
type Store struct {
	kv     KV
	owner  string
	opts   Options
	logger logger.Logger

	mu      sync.Mutex
	timer   *time.Timer
	pending *models.Answers
	seq     uint64

	// serializes writes so debounced and immediate saves never interleave
	writeMu sync.Mutex
}

func NewStore(kv KV, owner string, opts Options) *Store {
	opts.applyDefaults()
	return &Store{
		kv:     kv,
		owner:  owner,
		opts:   opts,
		logger: opts.Logger.With(map[string]interface{}{"component": "persistence", "owner": owner}),
	}
}

func (s *Store) ownerPrefix() string {
	return s.opts.Prefix + s.owner + ":"
}

func (s *Store) PrimaryKey() string {
	return s.ownerPrefix() + primarySuffix
}

func (s *Store) MinimalKey() string {
	return s.ownerPrefix() + minimalSuffix
}

// Save writes data now when immediate is true, cancelling any pending
// debounced write. Otherwise the write is deferred until no other Save
// arrives for the debounce window; only the latest data is written.
func (s *Store) Save(ctx context.Context, data models.Answers, immediate bool) error {
	snapshot := data.Clone()

	s.mu.Lock()
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if immediate {
		s.pending = nil
		s.mu.Unlock()
		return s.write(ctx, snapshot)
	}
	s.pending = &snapshot
	seq := s.seq
	s.timer = time.AfterFunc(s.opts.DebounceWindow, func() { s.fire(seq) })
	s.mu.Unlock()
	return nil
}

// fire runs a debounced write. writeMu is taken before the sequence check so
// a Save or Flush that bumps seq afterwards always writes after this one.
func (s *Store) fire(seq uint64) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.Lock()
	if seq != s.seq || s.pending == nil {
		s.mu.Unlock()
		return
	}
	data := *s.pending
	s.pending = nil
	s.timer = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.writeLocked(ctx, data); err != nil {
		s.logger.Warn("Debounced save failed", map[string]interface{}{"error": err.Error()})
	}
}

// Pending reports whether a debounced write is waiting.
func (s *Store) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil
}

// Flush writes a pending debounced save right away.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if pending == nil {
		return nil
	}
	return s.write(ctx, *pending)
}

func (s *Store) cancelPending() {
	s.mu.Lock()
	s.seq++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.pending = nil
	s.mu.Unlock()
}

func (s *Store) envelope(data models.Answers) models.Envelope {
	return models.Envelope{
		Payload:             data,
		SavedAt:             s.opts.Now(),
		SchemaVersion:       s.opts.SchemaVersion,
		StepCompletionFlags: data.CompletionFlags(),
	}
}

// write stores the full envelope. On a quota rejection it purges the owner's
// other keys and retries once, then falls back to an identification-only
// record under the minimal key.
func (s *Store) write(ctx context.Context, data models.Answers) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.writeLocked(ctx, data)
}

func (s *Store) writeLocked(ctx context.Context, data models.Answers) error {
	raw, err := json.Marshal(s.envelope(data))
	if err != nil {
		return apperrors.NewStorageError("encode_envelope", err)
	}

	err = s.put(ctx, s.PrimaryKey(), raw)
	if err == nil {
		metrics.PersistenceWrites.WithLabelValues("primary", "ok").Inc()
		s.dropMinimal(ctx)
		return nil
	}
	if !IsQuotaError(err) {
		metrics.PersistenceWrites.WithLabelValues("primary", "error").Inc()
		return apperrors.NewStorageError("save_form", err)
	}

	metrics.PersistenceWrites.WithLabelValues("primary", "quota").Inc()
	purged := s.purgeOthers(ctx)
	s.logger.Warn("Storage quota exceeded, purged stale keys", map[string]interface{}{"purged": purged, "bytes": len(raw)})

	if err = s.put(ctx, s.PrimaryKey(), raw); err == nil {
		metrics.PersistenceWrites.WithLabelValues("primary", "ok_after_purge").Inc()
		s.dropMinimal(ctx)
		return nil
	}

	minimal := models.NewAnswers()
	if rec := data.Step(models.StepIdentification); rec != nil {
		minimal.Steps[models.StepIdentification] = rec.Clone()
	}
	mraw, merr := json.Marshal(s.envelope(minimal))
	if merr == nil {
		merr = s.put(ctx, s.MinimalKey(), mraw)
	}
	if merr != nil {
		metrics.PersistenceWrites.WithLabelValues("minimal", "error").Inc()
		return apperrors.NewStorageError("save_minimal_form", merr)
	}
	metrics.PersistenceWrites.WithLabelValues("minimal", "ok").Inc()

	// a leftover primary would shadow the newer minimal record on load
	if derr := s.kv.Del(ctx, s.PrimaryKey()); derr != nil {
		s.logger.Warn("Failed to drop outdated primary record", map[string]interface{}{"error": derr.Error()})
	}
	s.logger.Warn("Saved identification-only record", map[string]interface{}{"key": s.MinimalKey()})
	return apperrors.NewStorageQuotaError("only the identification step was saved").
		WithMetadata("fallback", "minimal")
}

func (s *Store) put(ctx context.Context, key string, raw []byte) error {
	if s.opts.MaxEnvelopeBytes > 0 && len(raw) > s.opts.MaxEnvelopeBytes {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrQuotaExceeded, len(raw), s.opts.MaxEnvelopeBytes)
	}
	return s.kv.Set(ctx, key, string(raw))
}

func (s *Store) dropMinimal(ctx context.Context) {
	if err := s.kv.Del(ctx, s.MinimalKey()); err != nil {
		s.logger.Debug("Failed to drop minimal record", map[string]interface{}{"error": err.Error()})
	}
}

// purgeOthers removes the owner's keys other than the form records.
func (s *Store) purgeOthers(ctx context.Context) int {
	keys, err := s.kv.Keys(ctx, s.ownerPrefix())
	if err != nil {
		s.logger.Warn("Failed to list keys for purge", map[string]interface{}{"error": err.Error()})
		return 0
	}
	var victims []string
	for _, k := range keys {
		if k != s.PrimaryKey() && k != s.MinimalKey() {
			victims = append(victims, k)
		}
	}
	if len(victims) == 0 {
		return 0
	}
	if err := s.kv.Del(ctx, victims...); err != nil {
		s.logger.Warn("Failed to purge keys", map[string]interface{}{"error": err.Error()})
		return 0
	}
	return len(victims)
}

// Load recovers answers from the primary record, then the minimal record,
// accepting legacy flat objects on either key. Unrecognized data yields an
// empty result. Only store failures return an error.
func (s *Store) Load(ctx context.Context) (LoadResult, error) {
	for _, candidate := range []struct {
		key    string
		source Source
	}{
		{s.PrimaryKey(), SourcePrimary},
		{s.MinimalKey(), SourceMinimal},
	} {
		raw, ok, err := s.kv.Get(ctx, candidate.key)
		if err != nil {
			return LoadResult{}, apperrors.NewStorageError("load_form", err)
		}
		if !ok {
			continue
		}
		res, ok := s.decode(raw, candidate.source)
		if !ok {
			s.logger.Warn("Unrecognized stored record", map[string]interface{}{"key": candidate.key, "bytes": len(raw)})
			continue
		}
		if res.Stale {
			s.logger.Info("Loaded stale form data", map[string]interface{}{
				"savedAt": res.SavedAt,
				"source":  string(res.Source),
			})
		}
		metrics.PersistenceLoads.WithLabelValues(string(res.Source)).Inc()
		return res, nil
	}

	metrics.PersistenceLoads.WithLabelValues(string(SourceEmpty)).Inc()
	return LoadResult{Answers: models.NewAnswers(), Source: SourceEmpty}, nil
}

func (s *Store) decode(raw string, source Source) (LoadResult, bool) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &top); err != nil {
		return LoadResult{}, false
	}

	if _, hasPayload := top["payload"]; hasPayload {
		var env models.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err == nil {
			restoreFlags(&env.Payload, env.StepCompletionFlags)
			return LoadResult{
				Answers:       env.Payload,
				SavedAt:       env.SavedAt,
				SchemaVersion: env.SchemaVersion,
				Stale:         !env.SavedAt.IsZero() && env.Age(s.opts.Now()) > s.opts.StaleAfter,
				Source:        source,
			}, true
		}
	}

	answers, ok := s.decodeLegacy(raw)
	if !ok {
		return LoadResult{}, false
	}
	return LoadResult{Answers: answers, Source: SourceLegacy}, true
}

// decodeLegacy accepts the older unwrapped shapes: step-keyed objects, or a
// flat map of question keys spread across steps.
func (s *Store) decodeLegacy(raw string) (models.Answers, bool) {
	var flat map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &flat); err != nil {
		return models.Answers{}, false
	}

	var answers models.Answers
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		answers = models.NewAnswers()
	}

	loose := make(map[string]interface{})
	for k, v := range flat {
		if models.IsStep(k) || k == "final_result" {
			continue
		}
		loose[k] = v
	}

	if len(loose) > 0 && s.opts.Fields != nil {
		spread, unknown := s.opts.Fields.Distribute(loose)
		if len(unknown) > 0 {
			s.logger.Debug("Ignoring unknown legacy keys", map[string]interface{}{"keys": unknown})
		}
		for name, rec := range spread.Steps {
			merged := rec
			if existing := answers.Steps[name]; existing != nil {
				// step-keyed values win over loose ones
				merged = rec.Merge(existing)
			}
			answers.Steps[name] = merged
		}
	}

	if len(answers.Steps) == 0 && answers.FinalResult == nil {
		return models.Answers{}, false
	}
	for name, rec := range answers.Steps {
		answers.Steps[name] = models.NewStepRecord(rec)
	}
	return answers, true
}

// restoreFlags re-applies completion markers recorded beside the payload.
func restoreFlags(a *models.Answers, flags map[string]bool) {
	for _, step := range models.Steps {
		if !flags[step.FlagKey()] {
			continue
		}
		rec := a.Step(step)
		if rec == nil {
			continue
		}
		rec[step.FlagKey()] = true
	}
}

// Clear removes the form records, or every key under the owner prefix when
// all is set. Pending debounced writes are dropped.
func (s *Store) Clear(ctx context.Context, all bool) error {
	s.cancelPending()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	keys := []string{s.PrimaryKey(), s.MinimalKey()}
	if all {
		found, err := s.kv.Keys(ctx, s.ownerPrefix())
		if err != nil {
			return apperrors.NewStorageError("clear_form", err)
		}
		keys = found
	}
	if err := s.kv.Del(ctx, keys...); err != nil {
		return apperrors.NewStorageError("clear_form", err)
	}
	return nil
}
