package arke

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
)

func TestEncodeDeterministic(t *testing.T) {
	m := &Manifest{
		ID:        aid.New(aid.Main),
		CreatedAt: time.UnixMilli(1_700_000_000_000).UTC(),
		Version:   1,
		Timestamp: time.UnixMilli(1_700_000_000_000).UTC(),
		Status:    StatusActive,
		Components: map[string]CID{
			"data":  "sha256:aa",
			"image": "sha256:bb",
			"meta":  "sha256:cc",
		},
	}
	one, err := m.Encode()
	assert.NoError(t, err)
	two, err := m.Encode()
	assert.NoError(t, err)
	assert.Equal(t, one, two)
	assert.Equal(t, SumCID(one), SumCID(two))

	decoded, err := DecodeManifest(one)
	assert.NoError(t, err)
	reencoded, err := decoded.Encode()
	assert.NoError(t, err)
	assert.Equal(t, one, reencoded)
}

func TestCloneIsDeep(t *testing.T) {
	m := &Manifest{
		ID:         aid.New(aid.Main),
		Version:    1,
		Status:     StatusActive,
		Components: map[string]CID{"data": "sha256:aa"},
		Children:   []aid.ID{aid.New(aid.Main)},
	}
	c := m.Clone()
	c.Components["data"] = "sha256:bb"
	c.Children[0] = aid.New(aid.Main)
	assert.Equal(t, CID("sha256:aa"), m.Components["data"])
	assert.NotEqual(t, m.Children[0], c.Children[0])
}

func TestValidateLinksRejectsCrossNetwork(t *testing.T) {
	m := &Manifest{
		ID:      aid.New(aid.Main),
		Version: 1,
		Status:  StatusActive,
	}
	assert.NoError(t, m.ValidateLinks(aid.Main))

	m.ParentID = aid.New(aid.Test)
	assert.Error(t, m.ValidateLinks(aid.Main))
	m.ParentID = aid.BadID

	m.Children = []aid.ID{aid.New(aid.Test)}
	assert.Error(t, m.ValidateLinks(aid.Main))
}
