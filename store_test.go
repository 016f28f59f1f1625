package arke

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/learn-decentralized-systems/toytlv"
	"github.com/stretchr/testify/require"

	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/utils"
)

func testStore() *Store {
	return NewStore(NewMemObjectStore(), NewMemTipStore(), Options{
		Network: aid.Main,
		Logger:  utils.NopLogger{},
	})
}

func mustCreate(t *testing.T, s *Store, req CreateRequest) (*Manifest, CID) {
	t.Helper()
	m, cid, err := s.CreateEntity(context.Background(), req)
	require.NoError(t, err)
	return m, cid
}

func str(s string) *string { return &s }

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms).UTC() }
}

func parseEventRecord(t *testing.T, rec []byte) (Event, []byte) {
	t.Helper()
	body, rest, err := toytlv.TakeWary('E', rec)
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(body, &ev))
	return ev, rest
}
