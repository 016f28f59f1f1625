package api

import (
	"net/http"
	"strconv"

	arke "github.com/Arke-Institute/arke-ipfs-api-sub001"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
)

type createRequest struct {
	ID          string            `json:"id,omitempty"`
	Type        string            `json:"type,omitempty"`
	Label       string            `json:"label,omitempty"`
	Description string            `json:"description,omitempty"`
	Note        string            `json:"note,omitempty"`
	ParentID    string            `json:"parent_id,omitempty"`
	Children    []string          `json:"children,omitempty"`
	Components  map[string]string `json:"components,omitempty"`
}

type createResponse struct {
	ID          string `json:"id"`
	Version     uint64 `json:"version"`
	ManifestCID string `json:"manifest_cid"`
}

func (s *Server) handleCreate(store *arke.Store, w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := readJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	cr := arke.CreateRequest{
		Type:        req.Type,
		Label:       req.Label,
		Description: req.Description,
		Note:        req.Note,
	}
	var err error
	if req.ID != "" {
		if cr.ID, err = aid.Parse(req.ID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if req.ParentID != "" {
		if cr.ParentID, err = aid.Parse(req.ParentID); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if cr.Children, err = parseIDs(req.Children); err != nil {
		s.fail(w, r, err)
		return
	}
	if len(req.Components) > 0 {
		cr.Components = make(map[string]arke.CID, len(req.Components))
		for name, cid := range req.Components {
			cr.Components[name] = arke.CID(cid)
		}
	}
	m, cid, err := store.CreateEntity(r.Context(), cr)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createResponse{
		ID:          m.ID.String(),
		Version:     m.Version,
		ManifestCID: string(cid),
	})
}

type manifestResponse struct {
	ManifestCID string         `json:"manifest_cid"`
	Manifest    *arke.Manifest `json:"manifest"`
}

func (s *Server) handleGet(store *arke.Store, w http.ResponseWriter, r *http.Request) {
	id, err := aid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	m, cid, err := store.Tip(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse{ManifestCID: string(cid), Manifest: m})
}

func (s *Server) handleGetVersion(store *arke.Store, w http.ResponseWriter, r *http.Request) {
	id, err := aid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	n, err := strconv.ParseUint(r.PathValue("n"), 10, 64)
	if err != nil {
		s.fail(w, r, aid.ErrBadID)
		return
	}
	m, cid, err := store.ManifestAt(r.Context(), id, n)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse{ManifestCID: string(cid), Manifest: m})
}

type commitRequest struct {
	ExpectTip        string            `json:"expect_tip"`
	Type             *string           `json:"type,omitempty"`
	Label            *string           `json:"label,omitempty"`
	Description      *string           `json:"description,omitempty"`
	Note             *string           `json:"note,omitempty"`
	ParentID         *string           `json:"parent_id,omitempty"`
	SetComponents    map[string]string `json:"set_components,omitempty"`
	RemoveComponents []string          `json:"remove_components,omitempty"`
	AddChildren      []string          `json:"add_children,omitempty"`
	RemoveChildren   []string          `json:"remove_children,omitempty"`
}

type commitResponse struct {
	Version     uint64 `json:"version"`
	ManifestCID string `json:"manifest_cid"`
}

func (s *Server) handleCommit(store *arke.Store, w http.ResponseWriter, r *http.Request) {
	id, err := aid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req commitRequest
	if err = readJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	mut := &arke.Mutation{
		Type:             req.Type,
		Label:            req.Label,
		Description:      req.Description,
		Note:             req.Note,
		RemoveComponents: req.RemoveComponents,
	}
	if req.ParentID != nil {
		pid, err := aid.Parse(*req.ParentID)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		mut.ParentID = &pid
	}
	if len(req.SetComponents) > 0 {
		mut.SetComponents = make(map[string]arke.CID, len(req.SetComponents))
		for name, cid := range req.SetComponents {
			mut.SetComponents[name] = arke.CID(cid)
		}
	}
	if mut.AddChildren, err = parseIDs(req.AddChildren); err != nil {
		s.fail(w, r, err)
		return
	}
	if mut.RemoveChildren, err = parseIDs(req.RemoveChildren); err != nil {
		s.fail(w, r, err)
		return
	}
	m, cid, err := store.CommitMutation(r.Context(), id, arke.CID(req.ExpectTip), mut)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, commitResponse{Version: m.Version, ManifestCID: string(cid)})
}

type mergeRequest struct {
	ExpectTip string `json:"expect_tip"`
	MergeInto string `json:"merge_into"`
	Note      string `json:"note,omitempty"`
}

type mergeResponse struct {
	SourceNewVersion  uint64 `json:"source_new_version"`
	SourceManifestCID string `json:"source_manifest_cid"`
	ResolvedTarget    string `json:"resolved_target"`
}

func (s *Server) handleMerge(store *arke.Store, w http.ResponseWriter, r *http.Request) {
	id, err := aid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req mergeRequest
	if err = readJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	target, err := aid.Parse(req.MergeInto)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := store.Merge(r.Context(), id, target, arke.CID(req.ExpectTip), req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, mergeResponse{
		SourceNewVersion:  res.SourceVersion,
		SourceManifestCID: string(res.SourceCID),
		ResolvedTarget:    res.ResolvedTarget.String(),
	})
}

type unmergeRequest struct {
	ExpectTip          string `json:"expect_tip"`
	RestoreFromVersion uint64 `json:"restore_from_version,omitempty"`
	Note               string `json:"note,omitempty"`
}

type unmergeResponse struct {
	RestoredFromVersion uint64 `json:"restored_from_version"`
	NewVersion          uint64 `json:"new_version"`
	ManifestCID         string `json:"manifest_cid"`
}

func (s *Server) handleUnmerge(store *arke.Store, w http.ResponseWriter, r *http.Request) {
	id, err := aid.Parse(r.PathValue("id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req unmergeRequest
	if err = readJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := store.Unmerge(r.Context(), id, arke.CID(req.ExpectTip), req.RestoreFromVersion, req.Note)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, unmergeResponse{
		RestoredFromVersion: res.RestoredFrom,
		NewVersion:          res.NewVersion,
		ManifestCID:         string(res.CID),
	})
}

func parseIDs(raw []string) ([]aid.ID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]aid.ID, 0, len(raw))
	for _, s := range raw {
		id, err := aid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
