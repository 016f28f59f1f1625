package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	arke "github.com/Arke-Institute/arke-ipfs-api-sub001"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/aid"
	"github.com/Arke-Institute/arke-ipfs-api-sub001/utils"
)

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mkstore := func(n aid.Network) *arke.Store {
		return arke.NewStore(arke.NewMemObjectStore(), arke.NewMemTipStore(), arke.Options{
			Network: n,
			Logger:  utils.NopLogger{},
		})
	}
	srv := httptest.NewServer(NewServer(mkstore(aid.Main), mkstore(aid.Test), utils.NopLogger{}, nil))
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path, network string, body, out any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	if network != "" {
		req.Header.Set(NetworkHeader, network)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func createEntity(t *testing.T, srv *httptest.Server, network string, req createRequest) createResponse {
	t.Helper()
	var res createResponse
	resp := do(t, srv, http.MethodPost, "/entities", network, req, &res)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return res
}

func TestCreateAndGet(t *testing.T) {
	srv := testServer(t)
	created := createEntity(t, srv, "", createRequest{
		Label:      "specimen",
		Components: map[string]string{"data": "sha256:aa"},
	})
	assert.Equal(t, uint64(1), created.Version)
	assert.NotEmpty(t, created.ManifestCID)

	var got manifestResponse
	resp := do(t, srv, http.MethodGet, "/entities/"+created.ID, "", nil, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ManifestCID, got.ManifestCID)
	assert.Equal(t, "specimen", got.Manifest.Label)
	assert.NotEmpty(t, resp.Header.Get("X-Request-Id"))
}

func TestGetUnknownEntity(t *testing.T) {
	srv := testServer(t)
	id := aid.New(aid.Main)
	resp := do(t, srv, http.MethodGet, "/entities/"+id.String(), "", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/entities/not-an-id", "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNetworkHeaderRouting(t *testing.T) {
	srv := testServer(t)
	created := createEntity(t, srv, "test", createRequest{Label: "isolated"})
	assert.Equal(t, "UU", created.ID[:2])

	// test-network id is invisible on main
	resp := do(t, srv, http.MethodGet, "/entities/"+created.ID, "", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var got manifestResponse
	resp = do(t, srv, http.MethodGet, "/entities/"+created.ID, "test", nil, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/entities/"+created.ID, "nonsense", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCommitVersions(t *testing.T) {
	srv := testServer(t)
	created := createEntity(t, srv, "", createRequest{Label: "v1"})

	label := "v2"
	var committed commitResponse
	resp := do(t, srv, http.MethodPost, "/entities/"+created.ID+"/versions", "", commitRequest{
		ExpectTip:     created.ManifestCID,
		Label:         &label,
		SetComponents: map[string]string{"data": "sha256:aa"},
	}, &committed)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, uint64(2), committed.Version)

	var got manifestResponse
	resp = do(t, srv, http.MethodGet, "/entities/"+created.ID+"/versions/1", "", nil, &got)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v1", got.Manifest.Label)

	resp = do(t, srv, http.MethodGet, "/entities/"+created.ID+"/versions/9", "", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCommitConflictReportsTips(t *testing.T) {
	srv := testServer(t)
	created := createEntity(t, srv, "", createRequest{
		Components: map[string]string{"data": "sha256:aa"},
	})

	resp := do(t, srv, http.MethodPost, "/entities/"+created.ID+"/versions", "", commitRequest{
		ExpectTip:     created.ManifestCID,
		SetComponents: map[string]string{"data": "sha256:bb"},
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var eb errorBody
	resp = do(t, srv, http.MethodPost, "/entities/"+created.ID+"/versions", "", commitRequest{
		ExpectTip:     created.ManifestCID,
		SetComponents: map[string]string{"data": "sha256:cc"},
	}, &eb)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "cas_mismatch", eb.Code)
	assert.Equal(t, created.ManifestCID, eb.Expected)
	assert.NotEmpty(t, eb.Actual)
}

func TestCommitEmptyMutation(t *testing.T) {
	srv := testServer(t)
	created := createEntity(t, srv, "", createRequest{})

	var eb errorBody
	resp := do(t, srv, http.MethodPost, "/entities/"+created.ID+"/versions", "", commitRequest{
		ExpectTip: created.ManifestCID,
	}, &eb)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "empty_mutation", eb.Code)
}

func TestMergeUnmergeFlow(t *testing.T) {
	srv := testServer(t)
	src := createEntity(t, srv, "", createRequest{Label: "src"})
	target := createEntity(t, srv, "", createRequest{Label: "target"})

	var merged mergeResponse
	resp := do(t, srv, http.MethodPost, "/entities/"+src.ID+"/merge", "", mergeRequest{
		ExpectTip: src.ManifestCID,
		MergeInto: target.ID,
		Note:      "duplicate",
	}, &merged)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, uint64(2), merged.SourceNewVersion)
	assert.Equal(t, target.ID, merged.ResolvedTarget)

	// merging an already-merged source conflicts
	resp = do(t, srv, http.MethodPost, "/entities/"+src.ID+"/merge", "", mergeRequest{
		ExpectTip: src.ManifestCID,
		MergeInto: target.ID,
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var unmerged unmergeResponse
	resp = do(t, srv, http.MethodPost, "/entities/"+src.ID+"/unmerge", "", unmergeRequest{
		ExpectTip: merged.SourceManifestCID,
	}, &unmerged)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, uint64(1), unmerged.RestoredFromVersion)
	assert.Equal(t, uint64(3), unmerged.NewVersion)

	// unmerging an active entity is a bad request
	resp = do(t, srv, http.MethodPost, "/entities/"+src.ID+"/unmerge", "", unmergeRequest{
		ExpectTip: unmerged.ManifestCID,
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMergeCycleRejected(t *testing.T) {
	srv := testServer(t)
	src := createEntity(t, srv, "", createRequest{})

	var eb errorBody
	resp := do(t, srv, http.MethodPost, "/entities/"+src.ID+"/merge", "", mergeRequest{
		ExpectTip: src.ManifestCID,
		MergeInto: src.ID,
	}, &eb)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "merge_cycle_rejected", eb.Code)
}

func TestMalformedBody(t *testing.T) {
	srv := testServer(t)
	req, err := http.NewRequest(http.MethodPost, srv.URL+"/entities", bytes.NewBufferString(`{"bogus_field":1}`))
	require.NoError(t, err)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var eb errorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&eb))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "bad_request", eb.Code)
}

func TestCreateWithExplicitID(t *testing.T) {
	srv := testServer(t)
	id := aid.New(aid.Main)
	created := createEntity(t, srv, "", createRequest{ID: id.String()})
	assert.Equal(t, id.String(), created.ID)

	// the same id cannot be created twice
	resp := do(t, srv, http.MethodPost, "/entities", "", createRequest{ID: id.String()}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// cross-network id is rejected up front
	tid := aid.New(aid.Test)
	resp = do(t, srv, http.MethodPost, "/entities", "", createRequest{ID: tid.String()}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestVersionHistoryAcrossCommits(t *testing.T) {
	srv := testServer(t)
	created := createEntity(t, srv, "", createRequest{})
	tip := created.ManifestCID
	for i := 2; i <= 4; i++ {
		label := fmt.Sprintf("v%d", i)
		var committed commitResponse
		resp := do(t, srv, http.MethodPost, "/entities/"+created.ID+"/versions", "", commitRequest{
			ExpectTip: tip,
			Label:     &label,
		}, &committed)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		tip = committed.ManifestCID
	}
	var got manifestResponse
	resp := do(t, srv, http.MethodGet, "/entities/"+created.ID+"/versions/3", "", nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "v3", got.Manifest.Label)
	assert.Equal(t, uint64(3), got.Manifest.Version)
}
