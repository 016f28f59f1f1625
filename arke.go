package arke

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/learn-decentralized-systems/toyqueue"
	"github.com/learn-decentralized-systems/toytlv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/utils"
)

type Options struct {
	// Network is the logical namespace this store serves. Main and
	// test entities never mix.
	Network aid.Network
	// MaxWriteAttempts bounds coordinator retries per commit.
	MaxWriteAttempts int
	// RetryBaseDelay doubles per attempt, jittered, capped by
	// RetryMaxDelay.
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	ChainCacheSize int
	Logger         utils.Logger
	// Clock stamps new versions. Millisecond resolution keeps the
	// canonical encoding stable across round-trips.
	Clock func() time.Time
	// Metrics, when set, receives the store collectors.
	Metrics prometheus.Registerer
}

func (o *Options) SetDefaults() {
	if o.Network == "" {
		o.Network = aid.Main
	}
	if o.MaxWriteAttempts == 0 {
		o.MaxWriteAttempts = 5
	}
	if o.RetryBaseDelay == 0 {
		o.RetryBaseDelay = 2 * time.Millisecond
	}
	if o.RetryMaxDelay == 0 {
		o.RetryMaxDelay = 250 * time.Millisecond
	}
	if o.ChainCacheSize == 0 {
		o.ChainCacheSize = 1 << 14
	}
	if o.Logger == nil {
		o.Logger = utils.NewDefaultLogger(slog.LevelInfo)
	}
	if o.Clock == nil {
		o.Clock = func() time.Time {
			return time.Now().UTC().Truncate(time.Millisecond)
		}
	}
}

// Store is the tip versioning engine: immutable manifests in the
// object store, one mutable pointer per entity in the tip store,
// every update an optimistic compare-and-swap.
type Store struct {
	objects ObjectStore
	tips    TipStore
	chain   *chain
	opts    Options
	log     utils.Logger

	// serializes merge validation per entity pair
	mlocks tipLocks

	outq    map[string]toyqueue.DrainCloser
	outlock sync.Mutex

	metrics *storeMetrics

	// non-nil when the store owns an embedded pebble instance
	db *pebble.DB
}

func NewStore(objects ObjectStore, tips TipStore, opts Options) *Store {
	opts.SetDefaults()
	s := &Store{
		objects: objects,
		tips:    tips,
		chain:   newChain(objects, opts.ChainCacheSize),
		opts:    opts,
		log:     opts.Logger,
		outq:    make(map[string]toyqueue.DrainCloser),
		metrics: newStoreMetrics(),
	}
	if opts.Metrics != nil {
		s.metrics.register(opts.Metrics)
	}
	return s
}

// OpenPebble opens an embedded store: objects and tips share one
// pebble instance under dir.
func OpenPebble(dir string, opts Options) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	s := NewStore(NewPebbleObjectStore(db), NewPebbleTipStore(db), opts)
	s.db = db
	if opts.Metrics != nil {
		opts.Metrics.MustRegister(newPebbleCollector(db))
	}
	return s, nil
}

func (s *Store) Network() aid.Network { return s.opts.Network }

func (s *Store) Close() error {
	s.outlock.Lock()
	for name, hose := range s.outq {
		_ = hose.Close()
		delete(s.outq, name)
	}
	s.outlock.Unlock()
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

type CreateRequest struct {
	// ID is optional; when absent a fresh one is issued on the
	// store's network.
	ID          aid.ID
	Type        string
	Label       string
	Description string
	Note        string
	ParentID    aid.ID
	Children    []aid.ID
	Components  map[string]CID
}

// CreateEntity writes version 1 and installs the tip pointer
// atomically with it.
func (s *Store) CreateEntity(ctx context.Context, req CreateRequest) (*Manifest, CID, error) {
	id := req.ID
	if id == aid.BadID {
		id = aid.New(s.opts.Network)
	}
	now := s.opts.Clock()
	m := &Manifest{
		ID:          id,
		Type:        req.Type,
		ParentID:    req.ParentID,
		CreatedAt:   now,
		Version:     1,
		Timestamp:   now,
		Components:  req.Components,
		Status:      StatusActive,
		Label:       req.Label,
		Description: req.Description,
		Children:    req.Children,
		Note:        req.Note,
	}
	if err := m.ValidateLinks(s.opts.Network); err != nil {
		return nil, NoCID, err
	}
	cid, err := s.putManifest(ctx, m)
	if err != nil {
		return nil, NoCID, err
	}
	if err = s.tips.Create(ctx, id, cid); err != nil {
		return nil, NoCID, err
	}
	s.log.DebugCtx(ctx, "entity created", "id", id, "cid", cid)
	s.broadcast(Event{ID: id, Op: "create", Version: 1, CID: cid})
	return m, cid, nil
}

// Tip loads the current manifest of an entity.
func (s *Store) Tip(ctx context.Context, id aid.ID) (*Manifest, CID, error) {
	if err := aid.ValidateNetwork(id, s.opts.Network); err != nil {
		return nil, NoCID, err
	}
	cid, err := s.tips.Load(ctx, id)
	if err != nil {
		return nil, NoCID, err
	}
	m, err := s.chain.manifest(ctx, cid)
	if err != nil {
		return nil, NoCID, err
	}
	return m, cid, nil
}

// ManifestAt answers "restore point" queries: the manifest at an
// exact historical version number.
func (s *Store) ManifestAt(ctx context.Context, id aid.ID, version uint64) (*Manifest, CID, error) {
	tip, tipCID, err := s.Tip(ctx, id)
	if err != nil {
		return nil, NoCID, err
	}
	return s.chain.at(ctx, tip, tipCID, version)
}

// CreatedAt answers the entity's original creation time.
func (s *Store) CreatedAt(ctx context.Context, id aid.ID) (time.Time, error) {
	tip, tipCID, err := s.Tip(ctx, id)
	if err != nil {
		return time.Time{}, err
	}
	return s.chain.createdAt(ctx, tip, tipCID)
}

func (s *Store) putManifest(ctx context.Context, m *Manifest) (CID, error) {
	if err := m.validate(); err != nil {
		return NoCID, err
	}
	data, err := m.Encode()
	if err != nil {
		return NoCID, err
	}
	return s.objects.Put(ctx, data)
}

// Event is emitted to every registered hose after an accepted commit.
type Event struct {
	ID      aid.ID `json:"id"`
	Op      string `json:"op"`
	Version uint64 `json:"version"`
	CID     CID    `json:"cid"`
}

const EventQueueLimit = 1 << 20

// AddEventHose registers a named event subscriber. A second hose
// under the same name displaces the first.
func (s *Store) AddEventHose(name string) (feed toyqueue.FeedCloser) {
	queue := toyqueue.RecordQueue{Limit: EventQueueLimit}
	s.outlock.Lock()
	q := s.outq[name]
	s.outq[name] = &queue
	s.outlock.Unlock()
	if q != nil {
		s.log.Warn("closing the old event hose", "name", name)
		_ = q.Close()
	}
	return queue.Blocking()
}

func (s *Store) RemoveEventHose(name string) error {
	s.outlock.Lock()
	q := s.outq[name]
	delete(s.outq, name)
	s.outlock.Unlock()
	if q != nil {
		_ = q.Close()
	}
	return nil
}

func (s *Store) broadcast(ev Event) {
	s.outlock.Lock()
	defer s.outlock.Unlock()
	if len(s.outq) == 0 {
		return
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}
	records := toyqueue.Records{toytlv.Record('E', body)}
	for name, hose := range s.outq {
		if err := hose.Drain(records); err != nil {
			_ = hose.Close()
			delete(s.outq, name)
		}
	}
}
