package arke

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"slices"
	"time"

	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
	"github.com/pkg/errors"
)

// CID is a content identifier: an immutable, hash-derived reference to
// the exact bytes of a stored object.
type CID string

const NoCID = CID("")

// SumCID addresses a byte slice. Every manifest version is stored once
// under its sum; identical bytes always map to the same CID.
func SumCID(data []byte) CID {
	sum := sha256.Sum256(data)
	return CID("sha256:" + hex.EncodeToString(sum[:]))
}

type Status string

const (
	StatusActive Status = "active"
	StatusMerged Status = "merged"
)

// Manifest is one immutable version of one entity. New versions link
// to their predecessor through Previous; the chain always terminates
// at version 1.
type Manifest struct {
	ID        aid.ID    `json:"id"`
	Type      string    `json:"type,omitempty"`
	ParentID  aid.ID    `json:"parent_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	Version   uint64    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Previous  CID       `json:"previous,omitempty"`

	Components map[string]CID `json:"components,omitempty"`

	Status     Status `json:"status"`
	MergedInto aid.ID `json:"merged_into,omitempty"`

	Label       string   `json:"label,omitempty"`
	Description string   `json:"description,omitempty"`
	Children    []aid.ID `json:"children,omitempty"`
	Note        string   `json:"note,omitempty"`
}

// Clone makes a deep copy. Historical versions are load-bearing for
// the whole system; nothing ever mutates a manifest in place.
func (m *Manifest) Clone() *Manifest {
	c := *m
	if m.Components != nil {
		c.Components = make(map[string]CID, len(m.Components))
		for k, v := range m.Components {
			c.Components[k] = v
		}
	}
	c.Children = slices.Clone(m.Children)
	return &c
}

// Encode renders the canonical JSON form the manifest is
// content-addressed under. Field order is fixed by the struct, map
// keys are sorted by the encoder, so encoding is deterministic.
func (m *Manifest) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encoding manifest")
	}
	return data, nil
}

func DecodeManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "decoding manifest")
	}
	return &m, nil
}

// ValidateLinks rejects cross-namespace references before any write.
func (m *Manifest) ValidateLinks(network aid.Network) error {
	if err := aid.ValidateNetwork(m.ID, network); err != nil {
		return err
	}
	if m.ParentID != aid.BadID {
		if err := aid.ValidateNetwork(m.ParentID, network); err != nil {
			return err
		}
	}
	if m.MergedInto != aid.BadID {
		if err := aid.ValidateNetwork(m.MergedInto, network); err != nil {
			return err
		}
	}
	for _, ch := range m.Children {
		if err := aid.ValidateNetwork(ch, network); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manifest) Active() bool { return m.Status == StatusActive }

func (m *Manifest) validate() error {
	if m.Version == 0 {
		return errors.New("arke: manifest version must be positive")
	}
	if m.Status == StatusMerged && m.MergedInto == aid.BadID {
		return errors.New("arke: merged manifest without merged_into")
	}
	if m.Status == StatusActive && m.MergedInto != aid.BadID {
		return errors.New("arke: active manifest with merged_into")
	}
	return nil
}
