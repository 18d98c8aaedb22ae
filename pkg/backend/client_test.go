// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
)

// fakeServer is a minimal data server: GET documents by path (and query),
// token login, and datapoint posting.
type fakeServer struct {
	*httptest.Server

	mu         sync.Mutex
	docs       map[string]any
	hits       map[string]int
	failures   map[string]int
	posted     [][]element.DataPoint
	postStatus int
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	f := &fakeServer{
		docs:       map[string]any{},
		hits:       map[string]int{},
		failures:   map[string]int{},
		postStatus: http.StatusCreated,
	}
	f.Server = httptest.NewServer(f)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := r.URL.Path
	if r.URL.RawQuery != "" {
		key += "?" + r.URL.RawQuery
	}
	f.hits[key]++

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/auth/login/":
		var creds map[string]string
		if err := json.NewDecoder(r.Body).Decode(&creds); err != nil || creds["username"] != "plantos" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"key": "tok"})
	case r.Header.Get("Authorization") != "Token tok":
		w.WriteHeader(http.StatusUnauthorized)
	case r.Method == http.MethodPost && r.URL.Path == "/dataPoint/":
		if r.URL.Query().Get("many") != "True" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		var points []element.DataPoint
		if err := json.NewDecoder(r.Body).Decode(&points); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.posted = append(f.posted, points)
		w.WriteHeader(f.postStatus)
	case r.Method == http.MethodGet:
		if f.failures[key] > 0 {
			f.failures[key]--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		doc, ok := f.docs[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(doc)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeServer) set(path string, doc any) {
	f.mu.Lock()
	f.docs[path] = doc
	f.mu.Unlock()
}

func (f *fakeServer) fail(key string, times int) {
	f.mu.Lock()
	f.failures[key] = times
	f.mu.Unlock()
}

func (f *fakeServer) hitCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[key]
}

// greenhouse loads one enclosure: air temperature (active), air humidity
// (inactive), and a binary heater with effects on both.
func (f *fakeServer) greenhouse() {
	u := f.URL
	f.set("/", map[string]any{
		"sensingPoint":     u + "/sensingPoint/",
		"actuator":         u + "/actuator/",
		"resourceProperty": u + "/resourceProperty/",
	})
	f.set("/sensingPoint/", map[string]any{
		"count": 2,
		"next":  nil,
		"results": []any{
			map[string]any{"url": u + "/sensingPoint/1/", "index": 1, "property": u + "/resourceProperty/1/", "is_active": true},
			map[string]any{"url": u + "/sensingPoint/2/", "index": 1, "property": u + "/resourceProperty/2/", "is_active": false},
		},
	})
	f.set("/resourceProperty/1/", map[string]any{"code": "TM", "resource_type": u + "/resourceType/1/", "sensing_points": []any{u + "/sensingPoint/1/"}})
	f.set("/resourceProperty/2/", map[string]any{"code": "HU", "resource_type": u + "/resourceType/1/", "sensing_points": []any{u + "/sensingPoint/2/"}})
	f.set("/resourceType/1/", map[string]any{"code": "A"})
	f.set("/actuator/", map[string]any{
		"count": 1,
		"next":  nil,
		"results": []any{
			map[string]any{
				"url":             u + "/actuator/1/",
				"index":           1,
				"actuator_type":   u + "/actuatorType/1/",
				"resource":        u + "/resource/1/",
				"control_profile": u + "/controlProfile/1/",
				"override_value":  nil,
			},
		},
	})
	f.set("/actuatorType/1/", map[string]any{"is_binary": true, "resource_effect": u + "/resourceEffect/1/"})
	f.set("/resource/1/", map[string]any{"resource_type": u + "/resourceType/1/"})
	f.set("/resourceEffect/1/", map[string]any{"code": "HE"})
	f.set("/controlProfile/1/", map[string]any{
		"effects": []any{
			map[string]any{"property": u + "/resourceProperty/1/", "effect_on_active": 1, "threshold": 0.5, "operating_range_min": 0, "operating_range_max": 10},
			map[string]any{"property": u + "/resourceProperty/2/", "effect_on_active": -1, "threshold": 2, "operating_range_min": 0, "operating_range_max": 100},
		},
	})
	f.set("/tray/1/set_points/", map[string]any{"ATM": 21.5, "AHU": nil})
}

func newTestClient(t *testing.T, f *fakeServer) *Client {
	t.Helper()
	cfg := DefaultClientConfig(f.URL)
	cfg.Username = "plantos"
	cfg.Timeout = 2 * time.Second
	return NewClient(cfg, nil, nil)
}

func loggedIn(t *testing.T) (*fakeServer, *Client) {
	t.Helper()
	f := newFakeServer(t)
	f.greenhouse()
	c := newTestClient(t, f)
	require.NoError(t, c.Login(context.Background()))
	return f, c
}

// ============================================================
// Login / discovery
// ============================================================

func TestClient_LoginAndDiscover(t *testing.T) {
	f, c := loggedIn(t)

	url, err := c.URLByName("sensing_point")
	require.NoError(t, err)
	assert.Equal(t, f.URL+"/sensingPoint/", url)

	url, err = c.URLByName("resource_property")
	require.NoError(t, err)
	assert.Equal(t, f.URL+"/resourceProperty/", url)

	_, err = c.URLByName("control_profile")
	assert.Error(t, err)
}

func TestClient_LoginRejected(t *testing.T) {
	f := newFakeServer(t)
	f.greenhouse()
	cfg := DefaultClientConfig(f.URL)
	cfg.Username = "intruder"
	c := NewClient(cfg, nil, nil)

	err := c.Login(context.Background())
	var backendErr *Error
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "login", backendErr.Op)
	assert.Equal(t, http.StatusBadRequest, backendErr.Status)
}

// ============================================================
// GetJSON
// ============================================================

func TestClient_GetRetriesThenSucceeds(t *testing.T) {
	f, c := loggedIn(t)
	f.set("/flaky/", map[string]any{"ok": true})
	f.fail("/flaky/", 2)

	v, err := c.GetJSON(context.Background(), f.URL+"/flaky/", true, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, v)
	assert.Equal(t, 3, f.hitCount("/flaky/"))
}

func TestClient_GetGivesUpAfterRetries(t *testing.T) {
	f, c := loggedIn(t)
	f.set("/down/", map[string]any{})
	f.fail("/down/", 100)

	_, err := c.GetJSON(context.Background(), f.URL+"/down/", true, false)
	var backendErr *Error
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, http.StatusInternalServerError, backendErr.Status)
	assert.Equal(t, 5, f.hitCount("/down/"))
}

func TestClient_GetTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()

	cfg := DefaultClientConfig(slow.URL)
	cfg.Timeout = 50 * time.Millisecond
	cfg.Retries = 2
	c := NewClient(cfg, nil, nil)

	start := time.Now()
	_, err := c.GetJSON(context.Background(), slow.URL+"/", false, false)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestClient_Pagination(t *testing.T) {
	f, c := loggedIn(t)
	f.set("/many/", map[string]any{"count": 5, "next": f.URL + "/many/?page=2", "results": []any{"a", "b"}})
	f.set("/many/?page=2", map[string]any{"count": 5, "next": f.URL + "/many/?page=3", "results": []any{"c", "d"}})
	f.set("/many/?page=3", map[string]any{"count": 5, "next": nil, "results": []any{"e"}})

	first, err := c.GetJSON(context.Background(), f.URL+"/many/", false, false)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b"}, first)

	all, err := c.GetJSON(context.Background(), f.URL+"/many/", true, false)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c", "d", "e"}, all)
}

func TestClient_PaginationLimit(t *testing.T) {
	f, c := loggedIn(t)
	c.cfg.MaxResults = 3
	f.set("/many/", map[string]any{"count": 5, "next": f.URL + "/many/?page=2", "results": []any{"a", "b"}})
	f.set("/many/?page=2", map[string]any{"count": 5, "next": f.URL + "/many/?page=3", "results": []any{"c", "d"}})
	f.set("/many/?page=3", map[string]any{"count": 5, "next": nil, "results": []any{"e"}})

	all, err := c.GetJSON(context.Background(), f.URL+"/many/", true, false)
	require.NoError(t, err)
	assert.Equal(t, []any{"a", "b", "c"}, all)
	assert.Zero(t, f.hitCount("/many/?page=3"))
}

func TestClient_CacheIncludesListItems(t *testing.T) {
	f, c := loggedIn(t)
	ctx := context.Background()

	_, err := c.GetJSON(ctx, f.URL+"/sensingPoint/", true, false)
	require.NoError(t, err)

	item, err := c.GetJSON(ctx, f.URL+"/sensingPoint/1/", false, true)
	require.NoError(t, err)
	assert.Equal(t, f.URL+"/resourceProperty/1/", item.(map[string]any)["property"])
	assert.Zero(t, f.hitCount("/sensingPoint/1/"), "list items are served from cache")

	_, err = c.GetJSON(ctx, f.URL+"/resourceType/1/", false, true)
	require.NoError(t, err)
	_, err = c.GetJSON(ctx, f.URL+"/resourceType/1/", false, true)
	require.NoError(t, err)
	assert.Equal(t, 1, f.hitCount("/resourceType/1/"))
}

// ============================================================
// Topology / overrides / setpoints
// ============================================================

func TestClient_Topology(t *testing.T) {
	f, c := loggedIn(t)

	topo, err := c.Topology(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []SensingPointSpec{
		{Code: "SATM", Index: 1, URL: f.URL + "/sensingPoint/1/", Active: true},
		{Code: "SAHU", Index: 1, URL: f.URL + "/sensingPoint/2/", Active: false},
	}, topo.SensingPoints)

	require.Len(t, topo.Actuators, 1)
	heater := topo.Actuators[0]
	assert.Equal(t, "AAHE", heater.Code)
	assert.Equal(t, 1, heater.Index)
	assert.True(t, heater.Binary)
	assert.Equal(t, []element.Effect{{
		SensingPointURL:   f.URL + "/sensingPoint/1/",
		EffectOnActive:    1,
		Threshold:         0.5,
		OperatingRangeMin: 0,
		OperatingRangeMax: 10,
	}}, heater.Effects, "the effect on the inactive humidity point is dropped")
}

func TestClient_Overrides(t *testing.T) {
	f, c := loggedIn(t)

	overrides, err := c.Overrides(context.Background())
	require.NoError(t, err)
	require.Len(t, overrides, 1)
	assert.Equal(t, f.URL+"/actuator/1/", overrides[0].ActuatorURL)
	assert.Nil(t, overrides[0].Value)

	f.set("/actuator/", map[string]any{
		"count": 1,
		"next":  nil,
		"results": []any{
			map[string]any{"url": f.URL + "/actuator/1/", "index": 1, "override_value": 0.75},
		},
	})
	overrides, err = c.Overrides(context.Background())
	require.NoError(t, err)
	require.NotNil(t, overrides[0].Value)
	assert.Equal(t, 0.75, *overrides[0].Value)
}

func TestClient_SetPoints(t *testing.T) {
	_, c := loggedIn(t)

	sp, err := c.SetPoints(context.Background())
	require.NoError(t, err)
	require.Contains(t, sp, "ATM")
	require.Contains(t, sp, "AHU")
	assert.Equal(t, 21.5, *sp["ATM"])
	assert.Nil(t, sp["AHU"])
}

// ============================================================
// PostDataPoints
// ============================================================

func TestClient_PostDataPoints(t *testing.T) {
	f, c := loggedIn(t)
	points := []element.DataPoint{
		{Timestamp: 1700000000, Value: 22.8, SensingPoint: f.URL + "/sensingPoint/1/"},
		{Timestamp: 1700000005, Value: 22.9, SensingPoint: f.URL + "/sensingPoint/1/"},
	}

	require.NoError(t, c.PostDataPoints(context.Background(), points))
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.posted, 1)
	assert.Equal(t, points, f.posted[0])
}

func TestClient_PostDataPointsEmpty(t *testing.T) {
	f, c := loggedIn(t)
	require.NoError(t, c.PostDataPoints(context.Background(), nil))
	assert.Zero(t, f.hitCount("/dataPoint/?many=True"))
}

func TestClient_PostDataPointsRejected(t *testing.T) {
	f, c := loggedIn(t)
	f.mu.Lock()
	f.postStatus = http.StatusOK
	f.mu.Unlock()

	err := c.PostDataPoints(context.Background(), []element.DataPoint{{Timestamp: 1, Value: 1, SensingPoint: "x"}})
	var backendErr *Error
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "post_datapoints", backendErr.Op)
	assert.Equal(t, http.StatusOK, backendErr.Status)
}

func TestError_Message(t *testing.T) {
	cause := errors.New("connection refused")
	err := &Error{Op: "get", URL: "http://gro.local/", Err: cause}
	assert.Equal(t, "backend get http://gro.local/: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)

	err = &Error{Op: "login", URL: "http://gro.local/auth/login/", Status: 400}
	assert.Equal(t, "backend login http://gro.local/auth/login/: status 400", err.Error())
}
