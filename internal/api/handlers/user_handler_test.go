package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-sh/gatehouse/backend/internal/models"
)

func TestUserHandler_ListAndGet(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := OpenTestDB(t)
	require.NoError(t, db.AutoMigrate(&models.User{}))

	admin := models.User{
		UUID:   uuid.NewString(),
		Email:  "admin@example.com",
		Name:   "Admin",
		Role:   models.RoleAdmin,
		Status: models.StatusActive,
	}
	require.NoError(t, db.Create(&admin).Error)

	handler := NewUserHandler(db)
	r := gin.New()
	r.GET("/users", handler.ListUsers)
	r.GET("/users/:id", handler.GetUser)

	req := httptest.NewRequest("GET", "/users", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "admin@example.com")

	req = httptest.NewRequest("GET", "/users/"+admin.UUID, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), admin.UUID)

	req = httptest.NewRequest("GET", "/users/nope", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
