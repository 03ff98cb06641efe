package apiserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/pihound/pihound/pkg/backend"
	"github.com/pihound/pihound/pkg/model"
	"github.com/pihound/pihound/pkg/version"
)

type handler struct {
	backend backend.Backend
}

func newHandler(b backend.Backend) *handler {
	return &handler{
		backend: b,
	}
}

func (h *handler) root(w http.ResponseWriter, r *http.Request) {
	v := version.Get()
	if err := json.NewEncoder(w).Encode(v); err != nil {
		w.WriteHeader(500)
		_, _ = w.Write([]byte(`{"success": false}`))
	}
}

func (h *handler) listClients(w http.ResponseWriter, r *http.Request) {
	result, err := h.backend.ListClients(parseListOptions(r))
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, result)
}

func (h *handler) getClient(w http.ResponseWriter, r *http.Request) {
	id, err := idFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	client, err := h.backend.GetClient(id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, client)
}

func (h *handler) setClientAlias(w http.ResponseWriter, r *http.Request) {
	var input model.AliasRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if input.IPAddress == "" {
		writeError(w, http.StatusBadRequest, errors.New("ipaddress must be provided"))
		return
	}

	client, err := h.backend.SetClientAlias(input.IPAddress, input.Alias)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, client)
}

// The domain list views differ only in which flag predicates they pin.
func (h *handler) listDomains(flags map[string]interface{}) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		result, err := h.backend.ListDomains(parseListOptions(r), flags)
		if err != nil {
			handleError(w, err)
			return
		}
		writeSuccess(w, result)
	}
}

func (h *handler) getDomain(w http.ResponseWriter, r *http.Request) {
	id, err := idFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	domain, err := h.backend.GetDomain(id)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, domain)
}

func (h *handler) interrogateDomain(w http.ResponseWriter, r *http.Request) {
	var input model.InterrogateRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(input.Domain) == "" {
		writeError(w, http.StatusBadRequest, errors.New("domain must be provided"))
		return
	}

	domain, err := h.backend.Interrogate(r.Context(), input.Domain)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, domain)
}

// setDomainFlag serves the acknowledge/flag/ignore toggle endpoints, which
// accept one or many domain names plus a boolean applied uniformly.
func (h *handler) setDomainFlag(field string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input model.DomainFlagRequest
		if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if len(input.Domains) == 0 {
			writeError(w, http.StatusBadRequest, errors.New("domains must be provided"))
			return
		}

		if err := h.backend.SetDomainFlag(field, input.Domains, input.Value); err != nil {
			handleError(w, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *handler) listSyncRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.backend.ListSyncRuns(100)
	if err != nil {
		handleError(w, err)
		return
	}
	writeSuccess(w, runs)
}

func (h *handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	h.backend.TriggerSync()
	w.WriteHeader(http.StatusOK)
}

func idFromQuery(r *http.Request) (uint, error) {
	raw := r.URL.Query().Get("id")
	if raw == "" {
		return 0, errors.New("missing id parameter")
	}

	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid id: %s", raw)
	}
	return uint(id), nil
}

// parseListOptions reads search, page, itemsPerPage and repeated
// sortBy=key:order parameters. Malformed values fall back to defaults;
// the sort allow-list itself is enforced by the repository.
func parseListOptions(r *http.Request) model.ListOptions {
	q := r.URL.Query()

	opts := model.ListOptions{
		Search: q.Get("search"),
	}
	if page, err := strconv.Atoi(q.Get("page")); err == nil {
		opts.Page = page
	}
	if perPage, err := strconv.Atoi(q.Get("itemsPerPage")); err == nil {
		opts.PerPage = perPage
	}

	for _, raw := range q["sortBy"] {
		key, order, found := strings.Cut(raw, ":")
		if !found {
			order = model.SortAsc
		}
		opts.SortBy = append(opts.SortBy, model.SortItem{Key: key, Order: order})
	}

	return opts
}

func handleError(w http.ResponseWriter, err error) {
	if errors.Is(err, backend.ErrNotFound) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}
