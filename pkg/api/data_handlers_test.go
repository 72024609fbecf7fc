package api

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/storage"
)

func TestDataHandlers_CRUD(t *testing.T) {
	e := setupTestEnv(t)
	rec := e.newSession(t, "alice", nil)
	as := []caller{withSession(rec.ID), withTenant(e.tenantID)}

	w, body := e.do(t, http.MethodPost, "/api/data/widgets", `{"name":"gear","size":3}`, as...)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "gear", body["name"])
	id := fmt.Sprint(body["id"])
	require.NotEmpty(t, id)

	var count int
	require.NoError(t, e.tenantDB.Get(&count, "SELECT COUNT(*) FROM widgets"))
	assert.Equal(t, 1, count, "record lands in the tenant's own store")

	w, body = e.do(t, http.MethodGet, "/api/data/widgets/"+id, "", as...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "gear", body["name"])

	w, body = e.do(t, http.MethodPatch, "/api/data/widgets/"+id, `{"size":5}`, as...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 5, body["size"])
	assert.Equal(t, "gear", body["name"], "unset fields are kept")

	w, _ = e.do(t, http.MethodPut, "/api/data/widgets/"+id, `{"name":"cog"}`, as...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = e.do(t, http.MethodDelete, "/api/data/widgets/"+id, "", as...)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w, body = e.do(t, http.MethodGet, "/api/data/widgets/"+id, "", as...)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestDataHandlers_List(t *testing.T) {
	e := setupTestEnv(t)
	_, err := e.tenantDB.Exec(`INSERT INTO widgets (name, size) VALUES ('a', 1), ('b', 2), ('c', 2)`)
	require.NoError(t, err)
	bob := e.newSession(t, "bob", nil)
	as := []caller{withSession(bob.ID), withTenant(e.tenantID)}

	w, body := e.do(t, http.MethodGet, "/api/data/widgets", "", as...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, body["records"], 3)
	assert.EqualValues(t, defaultPageSize, body["limit"])

	w, body = e.do(t, http.MethodGet, "/api/data/widgets?size=2&order=name+DESC", "", as...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	records := body["records"].([]interface{})
	require.Len(t, records, 2)
	assert.Equal(t, "c", records[0].(map[string]interface{})["name"])

	w, body = e.do(t, http.MethodGet, "/api/data/widgets?limit=1&offset=1&order=id", "", as...)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	records = body["records"].([]interface{})
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].(map[string]interface{})["name"])

	w, body = e.do(t, http.MethodGet, "/api/data/widgets?size=99", "", as...)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []interface{}{}, body["records"], "empty pages are arrays")
}

func TestDataHandlers_Rejections(t *testing.T) {
	e := setupTestEnv(t)
	alice := e.newSession(t, "alice", nil)
	bob := e.newSession(t, "bob", nil)

	tests := []struct {
		name    string
		method  string
		path    string
		body    string
		callers []caller
		status  int
		code    string
	}{
		{
			name:    "read-only role writes",
			method:  http.MethodPost,
			path:    "/api/data/widgets",
			body:    `{"name":"gear"}`,
			callers: []caller{withSession(bob.ID), withTenant(e.tenantID)},
			status:  http.StatusForbidden,
			code:    "FORBIDDEN",
		},
		{
			name:    "no tenant header",
			method:  http.MethodGet,
			path:    "/api/data/widgets",
			callers: []caller{withSession(alice.ID)},
			status:  http.StatusBadRequest,
			code:    "INVALID_TENANT",
		},
		{
			name:    "unknown tenant",
			method:  http.MethodGet,
			path:    "/api/data/widgets",
			callers: []caller{withSession(alice.ID), withTenant(e.tenantID + 100)},
			status:  http.StatusForbidden,
			code:    "FORBIDDEN",
		},
		{
			name:    "bad order",
			method:  http.MethodGet,
			path:    "/api/data/widgets?order=name+sideways",
			callers: []caller{withSession(alice.ID), withTenant(e.tenantID)},
			status:  http.StatusBadRequest,
			code:    "INVALID_REQUEST",
		},
		{
			name:    "bad filter column",
			method:  http.MethodGet,
			path:    "/api/data/widgets?na-me=x",
			callers: []caller{withSession(alice.ID), withTenant(e.tenantID)},
			status:  http.StatusBadRequest,
			code:    "INVALID_REQUEST",
		},
		{
			name:    "bad limit",
			method:  http.MethodGet,
			path:    "/api/data/widgets?limit=many",
			callers: []caller{withSession(alice.ID), withTenant(e.tenantID)},
			status:  http.StatusBadRequest,
			code:    "INVALID_REQUEST",
		},
		{
			name:    "empty update",
			method:  http.MethodPatch,
			path:    "/api/data/widgets/1",
			body:    `{"id":7}`,
			callers: []caller{withSession(alice.ID), withTenant(e.tenantID)},
			status:  http.StatusBadRequest,
			code:    "INVALID_REQUEST",
		},
		{
			name:    "empty create",
			method:  http.MethodPost,
			path:    "/api/data/widgets",
			body:    `{}`,
			callers: []caller{withSession(alice.ID), withTenant(e.tenantID)},
			status:  http.StatusBadRequest,
			code:    "INVALID_REQUEST",
		},
		{
			name:    "delete missing record",
			method:  http.MethodDelete,
			path:    "/api/data/widgets/404",
			callers: []caller{withSession(alice.ID), withTenant(e.tenantID)},
			status:  http.StatusNotFound,
			code:    "NOT_FOUND",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := e.do(t, tt.method, tt.path, tt.body, tt.callers...)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			assert.Equal(t, tt.code, body["code"])
		})
	}
}

func TestDataHandlers_Bearer(t *testing.T) {
	e := setupTestEnv(t)

	w, body := e.do(t, http.MethodPost, "/api/data/widgets", `{"name":"gear"}`,
		withBearer(e.iss.Mint(t, "alice", nil)), withTenant(e.tenantID))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "gear", body["name"])
}

func TestDataError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want apperr.Kind
	}{
		{"not found", storage.ErrNotFound, apperr.KindNotFound},
		{"wrapped not found", fmt.Errorf("find: %w", storage.ErrNotFound), apperr.KindNotFound},
		{"rejected input", apperr.New(apperr.KindInternal, "relational", "invalid column"), apperr.KindBadRequest},
		{"classified", apperr.New(apperr.KindForbidden, "x", "no"), apperr.KindForbidden},
		{"driver failure", errors.New("connection reset"), apperr.KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, apperr.KindOf(dataError(tt.err, "test")))
		})
	}
}
