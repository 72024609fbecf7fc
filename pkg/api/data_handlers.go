package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
	"github.com/platinummonkey/tenantgate/pkg/httputil"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/storage"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// reserved query parameters; every other one filters by equality
var reserved = map[string]bool{"limit": true, "offset": true, "order": true}

// DataHandlers serves the records of the tenant a request resolved to.
// Which models and methods a caller may use is decided by the tenant's
// role_routes before the handlers run.
type DataHandlers struct{}

// NewDataHandlers creates the records handlers
func NewDataHandlers() *DataHandlers {
	return &DataHandlers{}
}

// Routes implements RouteRegistrar
func (h *DataHandlers) Routes() []GuardedRoute {
	return []GuardedRoute{
		{Path: "/api/data/{model}", Methods: []string{"GET"}, Scope: ScopeTenant, Handler: h.list},
		{Path: "/api/data/{model}", Methods: []string{"POST"}, Scope: ScopeTenant, Handler: h.create},
		{Path: "/api/data/{model}/{id}", Methods: []string{"GET"}, Scope: ScopeTenant, Handler: h.get},
		{Path: "/api/data/{model}/{id}", Methods: []string{"PUT", "PATCH"}, Scope: ScopeTenant, Handler: h.update},
		{Path: "/api/data/{model}/{id}", Methods: []string{"DELETE"}, Scope: ScopeTenant, Handler: h.delete},
	}
}

// ListResponse is a page of records
type ListResponse struct {
	Records []storage.Record `json:"records"`
	Limit   uint64           `json:"limit"`
	Offset  uint64           `json:"offset"`
}

func (h *DataHandlers) model(r *http.Request) (storage.Model, error) {
	conn, ok := middleware.ConnectionFrom(r.Context())
	if !ok {
		return nil, apperr.New(apperr.KindInternal, "api.model", "no tenant connection")
	}
	name, err := httputil.ParsePathString(r, "model")
	if err != nil {
		return nil, err
	}
	m, err := conn.Model(name)
	if err != nil {
		return nil, dataError(err, "api.model")
	}
	return m, nil
}

func listQuery(r *http.Request) (storage.Query, error) {
	limit, err := httputil.ParseQueryUint(r, "limit", defaultPageSize)
	if err != nil {
		return storage.Query{}, err
	}
	if limit == 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	offset, err := httputil.ParseQueryUint(r, "offset", 0)
	if err != nil {
		return storage.Query{}, err
	}

	q := storage.Query{Limit: limit, Offset: offset}
	if order := httputil.ParseQueryString(r, "order", ""); order != "" {
		for _, o := range strings.Split(order, ",") {
			if o = strings.TrimSpace(o); o != "" {
				q.OrderBy = append(q.OrderBy, o)
			}
		}
	}
	for key, values := range r.URL.Query() {
		if reserved[key] || len(values) == 0 {
			continue
		}
		if q.Where == nil {
			q.Where = storage.Filter{}
		}
		q.Where[key] = values[0]
	}
	return q, nil
}

// list handles GET /api/data/{model}
func (h *DataHandlers) list(w http.ResponseWriter, r *http.Request) {
	m, err := h.model(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	q, err := listQuery(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	recs, err := m.FindMany(r.Context(), q)
	if err != nil {
		httputil.WriteError(w, r, dataError(err, "api.list"))
		return
	}
	if recs == nil {
		recs = []storage.Record{}
	}
	httputil.WriteSuccess(w, ListResponse{Records: recs, Limit: q.Limit, Offset: q.Offset})
}

// create handles POST /api/data/{model}
func (h *DataHandlers) create(w http.ResponseWriter, r *http.Request) {
	m, err := h.model(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var rec storage.Record
	if !httputil.ParseJSONOrError(w, r, &rec) {
		return
	}

	created, err := m.Create(r.Context(), rec)
	if err != nil {
		httputil.WriteError(w, r, dataError(err, "api.create"))
		return
	}
	httputil.WriteCreated(w, created)
}

// get handles GET /api/data/{model}/{id}
func (h *DataHandlers) get(w http.ResponseWriter, r *http.Request) {
	m, id, err := h.modelAndID(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	rec, err := m.Find(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, dataError(err, "api.get"))
		return
	}
	httputil.WriteSuccess(w, rec)
}

// update handles PUT and PATCH /api/data/{model}/{id}; both merge fields
func (h *DataHandlers) update(w http.ResponseWriter, r *http.Request) {
	m, id, err := h.modelAndID(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	var changes storage.Record
	if !httputil.ParseJSONOrError(w, r, &changes) {
		return
	}
	delete(changes, "id")
	if len(changes) == 0 {
		httputil.WriteError(w, r, apperr.New(apperr.KindBadRequest, "api.update", "no fields to update"))
		return
	}

	rec, err := m.Update(r.Context(), id, changes)
	if err != nil {
		httputil.WriteError(w, r, dataError(err, "api.update"))
		return
	}
	httputil.WriteSuccess(w, rec)
}

// delete handles DELETE /api/data/{model}/{id}
func (h *DataHandlers) delete(w http.ResponseWriter, r *http.Request) {
	m, id, err := h.modelAndID(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	if err := m.Delete(r.Context(), id); err != nil {
		httputil.WriteError(w, r, dataError(err, "api.delete"))
		return
	}
	httputil.WriteNoContent(w)
}

func (h *DataHandlers) modelAndID(r *http.Request) (storage.Model, string, error) {
	m, err := h.model(r)
	if err != nil {
		return nil, "", err
	}
	id, err := httputil.ParsePathString(r, "id")
	if err != nil {
		return nil, "", err
	}
	return m, id, nil
}

// dataError classifies store errors. Models report rejected input (names,
// columns, orders, empty records) as Internal; here that input came from
// the client.
func dataError(err error, op string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.Wrap(err, apperr.KindNotFound, op, "record not found")
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		if appErr.Kind == apperr.KindInternal {
			return apperr.Wrap(err, apperr.KindBadRequest, op, appErr.Msg)
		}
		return err
	}
	return apperr.Wrap(err, apperr.KindUnavailable, op, "tenant store failed")
}

func errNotFound(r *http.Request) error {
	return apperr.Errorf(apperr.KindNotFound, "api.route", "no route for %s %s", r.Method, r.URL.Path)
}
