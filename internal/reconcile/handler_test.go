package reconcile

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luqma-backoffice/backend/internal/models"
)

func TestHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := newEnv(t)
	e.principal(t, "u1")
	e.member(t, "biz1", "u1", models.RoleDriver, models.MembershipActive)

	r := gin.New()
	NewHandler(e.job, 2).Register(r.Group("/ops"))

	serve := func(method, path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(method, path, nil))
		return w
	}

	w := serve(http.MethodPost, "/ops/reconcile?dry_run=true")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Data Report `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.Data.DryRun)
	assert.Equal(t, 1, body.Data.Drifted)
	assert.True(t, e.claimsOf(t, "u1").Empty())

	assert.Equal(t, http.StatusBadRequest, serve(http.MethodPost, "/ops/reconcile?dry_run=maybe").Code)
	assert.Equal(t, http.StatusOK, serve(http.MethodPost, "/ops/claims/u1/resync").Code)
	assert.Equal(t, []string{"biz1"}, e.claimsOf(t, "u1").BusinessIDs)

	w = serve(http.MethodGet, "/ops/claims/u1")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"inSync":true`)

	assert.Equal(t, http.StatusNotFound, serve(http.MethodGet, "/ops/claims/ghost").Code)
}
