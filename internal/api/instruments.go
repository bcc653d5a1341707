package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/labkit/instrumental/internal/alias"
	"github.com/labkit/instrumental/internal/audit"
	"github.com/labkit/instrumental/internal/driver"
	"github.com/labkit/instrumental/internal/facet"
	"github.com/labkit/instrumental/internal/paramset"
	"github.com/labkit/instrumental/internal/resolver"
	"github.com/labkit/instrumental/internal/telemetry"
	"github.com/labkit/instrumental/internal/units"
)

// facetView describes one bound facet.
type facetView struct {
	Name     string `json:"name"`
	Unit     string `json:"unit,omitempty"`
	Readonly bool   `json:"readonly"`
	Doc      string `json:"doc,omitempty"`
}

// instrumentView describes one open instrument.
type instrumentView struct {
	ID        string         `json:"id"`
	Module    string         `json:"module"`
	Classname string         `json:"classname"`
	Params    map[string]any `json:"params"`
	Facets    []facetView    `json:"facets"`
}

func viewOf(inst driver.Instrument) instrumentView {
	ps := inst.ParamSet()
	v := instrumentView{
		ID:        driver.InstanceID(inst).String(),
		Module:    ps.Module(),
		Classname: ps.Classname(),
		Params:    ps.Map(),
		Facets:    []facetView{},
	}
	for _, fv := range driver.FacetsOf(inst) {
		f := fv.Facet()
		view := facetView{Name: f.Name(), Readonly: f.IsReadOnly(), Doc: f.Doc()}
		if u, ok := f.Unit(); ok {
			view.Unit = u.Symbol()
		}
		v.Facets = append(v.Facets, view)
	}
	return v
}

// handleListInstruments enumerates available instruments. Query parameters
// other than server and module are keyword filters.
func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := resolver.ListOptions{Server: q.Get("server"), Module: q.Get("module")}
	for key, values := range q {
		if key == "server" || key == "module" || len(values) == 0 {
			continue
		}
		next, err := opts.Filters.With(key, values[0])
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		opts.Filters = next
	}

	list, err := s.resolver.ListInstruments(r.Context(), opts)
	if err != nil {
		s.writeResolverError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, ps := range list {
		out = append(out, ps.Map())
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": out, "count": len(out)})
}

func (s *Server) handleListOpen(w http.ResponseWriter, _ *http.Request) {
	insts := s.resolver.Session().OpenInstruments()
	out := make([]instrumentView, 0, len(insts))
	for _, inst := range insts {
		out = append(out, viewOf(inst))
	}
	writeJSON(w, http.StatusOK, map[string]any{"instruments": out, "count": len(out)})
}

// openRequest is the body of POST /open.
type openRequest struct {
	// Request is a parameter object or an alias name.
	Request json.RawMessage `json:"request"`
	Policy  string          `json:"policy,omitempty"`
	Unique  bool            `json:"unique,omitempty"`
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	var body openRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var request any
	raw := strings.TrimSpace(string(body.Request))
	switch {
	case strings.HasPrefix(raw, "{"):
		request = raw
	case strings.HasPrefix(raw, `"`):
		var name string
		if err := json.Unmarshal(body.Request, &name); err != nil {
			writeBadRequest(w, "invalid alias name")
			return
		}
		request = name
	default:
		writeBadRequest(w, "request must be a parameter object or an alias name")
		return
	}

	var opts []resolver.OpenOption
	if body.Policy != "" {
		p, err := resolver.ParsePolicy(body.Policy)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		opts = append(opts, resolver.WithReopenPolicy(p))
	}
	if body.Unique {
		opts = append(opts, resolver.RequireUnique())
	}

	inst, err := s.resolver.Open(r.Context(), request, opts...)
	if err != nil {
		s.writeResolverError(w, err)
		return
	}
	s.hold(inst)
	writeJSON(w, http.StatusCreated, viewOf(inst))
}

// instrument finds the open instrument named by the {id} URL parameter.
func (s *Server) instrument(w http.ResponseWriter, r *http.Request) (driver.Instrument, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeBadRequest(w, "invalid instrument id")
		return nil, false
	}
	inst, ok := s.resolver.Session().Find(id)
	if !ok {
		writeNotFound(w, "instrument not open")
		return nil, false
	}
	return inst, true
}

func (s *Server) handleGetOpen(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instrument(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(inst))
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instrument(w, r)
	if !ok {
		return
	}
	s.release(driver.InstanceID(inst))
	if err := inst.Close(); err != nil {
		s.logger.Warn("instrument close failed", "id", driver.InstanceID(inst).String(), "error", err)
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) facetValue(w http.ResponseWriter, r *http.Request) (*facet.Value, bool) {
	inst, ok := s.instrument(w, r)
	if !ok {
		return nil, false
	}
	name := chi.URLParam(r, "facet")
	v, ok := driver.FacetOf(inst, name)
	if !ok {
		writeNotFound(w, "no facet "+name)
		return nil, false
	}
	return v, true
}

func (s *Server) handleGetFacet(w http.ResponseWriter, r *http.Request) {
	v, ok := s.facetValue(w, r)
	if !ok {
		return
	}
	get := v.Get
	if fresh, _ := strconv.ParseBool(r.URL.Query().Get("fresh")); fresh {
		get = v.GetFresh
	}
	value, err := get(r.Context())
	if err != nil {
		writeFacetError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"name": v.Name(), "value": telemetry.JSONValue(value)})
}

// setFacetRequest is the body of PUT /open/{id}/facets/{facet}.
type setFacetRequest struct {
	Value any  `json:"value"`
	Fresh bool `json:"fresh,omitempty"`
}

func (s *Server) handleSetFacet(w http.ResponseWriter, r *http.Request) {
	v, ok := s.facetValue(w, r)
	if !ok {
		return
	}
	var body setFacetRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	value := body.Value
	if m, ok := value.(map[string]any); ok {
		q, err := quantityFromJSON(m)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		value = q
	}

	set := v.Set
	if body.Fresh {
		set = v.SetFresh
	}
	if err := set(r.Context(), value); err != nil {
		writeFacetError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// quantityFromJSON accepts the {"magnitude", "unit"} form facets are read
// back in.
func quantityFromJSON(m map[string]any) (units.Quantity, error) {
	mag, ok := m["magnitude"].(float64)
	unit, uok := m["unit"].(string)
	if !ok || !uok {
		return units.Quantity{}, errors.New("quantity needs a numeric magnitude and a unit")
	}
	return units.New(mag, unit)
}

// aliasRequest is the body of POST /open/{id}/alias.
type aliasRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleSaveAlias(w http.ResponseWriter, r *http.Request) {
	inst, ok := s.instrument(w, r)
	if !ok {
		return
	}
	var body aliasRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := driver.Save(r.Context(), inst, body.Name); err != nil {
		switch {
		case errors.Is(err, alias.ErrInvalidName):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, driver.ErrNoAliasStore), errors.Is(err, alias.ErrReadOnly):
			writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		default:
			writeInternalError(w, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"name": strings.TrimSpace(body.Name), "params": inst.ParamSet().Map()})
}

func (s *Server) handleListAliases(w http.ResponseWriter, r *http.Request) {
	if s.aliases == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no alias store configured")
		return
	}
	list, err := s.aliases.List(r.Context())
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	out := make([]map[string]any, 0, len(list))
	for _, a := range list {
		out = append(out, map[string]any{"name": a.Name, "params": a.Params.Map(), "source": a.Source})
	}
	writeJSON(w, http.StatusOK, map[string]any{"aliases": out, "count": len(out)})
}

// writeResolverError maps resolution failures to HTTP statuses.
func (s *Server) writeResolverError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, resolver.ErrNoMatchingInstrument), errors.Is(err, alias.ErrAliasNotFound):
		writeNotFound(w, err.Error())
	case errors.Is(err, resolver.ErrAmbiguous), errors.Is(err, driver.ErrInstrumentExists):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, resolver.ErrInvalidRequest), errors.Is(err, resolver.ErrRemoteInstrument),
		errors.Is(err, resolver.ErrUnknownServer), isParamError(err):
		writeBadRequest(w, err.Error())
	case errors.Is(err, driver.ErrLibrary):
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, err.Error())
	default:
		s.logger.Warn("request failed", "error", err)
		writeInternalError(w, err.Error())
	}
}

func isParamError(err error) bool {
	return errors.Is(err, paramset.ErrInvalidLiteral) || errors.Is(err, paramset.ErrKeyNotString) ||
		errors.Is(err, paramset.ErrEmptyKey) || errors.Is(err, paramset.ErrInvalidSettings)
}

// writeFacetError maps facet failures to HTTP statuses.
func writeFacetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, facet.ErrReadOnly), errors.Is(err, facet.ErrWriteOnly):
		writeError(w, http.StatusMethodNotAllowed, ErrCodeValidation, err.Error())
	case errors.Is(err, facet.ErrOutOfRange), errors.Is(err, facet.ErrTypeCoercion),
		errors.Is(err, facet.ErrUnmappedValue), errors.Is(err, units.ErrDimensionality),
		errors.Is(err, units.ErrUnknownUnit), errors.Is(err, units.ErrInvalidQuantity):
		writeError(w, http.StatusUnprocessableEntity, ErrCodeValidation, err.Error())
	case errors.Is(err, driver.ErrLibrary):
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}

func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "no audit log configured")
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		Action:       q.Get("action"),
		InstrumentID: q.Get("instrument"),
		Module:       q.Get("module"),
	}
	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeBadRequest(w, key+" must be an integer")
				return
			}
			*dst = n
		}
	}
	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		writeInternalError(w, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}
