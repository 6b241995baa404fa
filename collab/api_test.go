package collab

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/go-playground/assert/v2"
)

func TestGetDocumentCarriesBearerAuth(t *testing.T) {
	byJwt := testByJwt("u1", "alice")

	router := mux.NewRouter()
	router.HandleFunc("/documents/{documentId}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+byJwt, r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(&GetDocumentResult{
			Document: &ApiDocument{
				DocumentId: mux.Vars(r)["documentId"],
				Title:      "Notes",
				Content:    "body",
				Version:    7,
				Permission: PermissionWrite,
			},
		})
	}).Methods("GET")
	server := httptest.NewServer(router)
	defer server.Close()

	api := NewDocumentApi(server.URL)
	defer api.Close()
	api.SetByJwt(byJwt)

	result, err := api.GetDocumentSync("d1")
	assert.Equal(t, err, nil)
	assert.Equal(t, "d1", result.Document.DocumentId)
	assert.Equal(t, "Notes", result.Document.Title)
	assert.Equal(t, 7, result.Document.Version)
	assert.Equal(t, true, result.Document.Writable())
}

func TestUpdateDocumentConflictIsNotAnError(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/documents/{documentId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(map[string]any{
			"conflict":        true,
			"current_content": "authoritative",
			"current_version": 9,
		})
	}).Methods("PATCH")
	server := httptest.NewServer(router)
	defer server.Close()

	api := NewDocumentApi(server.URL)
	defer api.Close()

	result, err := api.UpdateDocumentSync("d1", &UpdateDocumentArgs{
		Title:   "Notes",
		Content: "stale",
		Version: 3,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, true, result.Conflict)
	assert.Equal(t, "authoritative", result.CurrentContent)
	assert.Equal(t, 9, result.CurrentVersion)
}

func TestApiErrorMessageFromBody(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/documents/{documentId}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{"error": "Access denied"})
	}).Methods("GET")
	server := httptest.NewServer(router)
	defer server.Close()

	api := NewDocumentApi(server.URL)
	defer api.Close()

	_, err := api.GetDocumentSync("d1")
	assert.NotEqual(t, err, nil)
	assert.Equal(t, "Access denied", err.Error())
}

func TestAuthLogin(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		args := &AuthLoginArgs{}
		json.NewDecoder(r.Body).Decode(args)
		assert.Equal(t, "alice@example.com", args.Email)
		json.NewEncoder(w).Encode(&AuthLoginResult{
			Token:  testByJwt("u1", "alice"),
			UserId: "u1",
		})
	}).Methods("POST")
	server := httptest.NewServer(router)
	defer server.Close()

	api := NewDocumentApi(server.URL)
	defer api.Close()

	result, err := api.AuthLoginSync(&AuthLoginArgs{
		Email:    "alice@example.com",
		Password: "secret",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, "u1", result.UserId)

	claims, err := ParseByJwtUnverified(result.Token)
	assert.Equal(t, err, nil)
	assert.Equal(t, "u1", claims.UserId)
}

func TestAsyncCallback(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/documents", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&ListDocumentsResult{
			Documents: []*ApiDocument{
				{DocumentId: "d1", Title: "One"},
				{DocumentId: "d2", Title: "Two"},
			},
		})
	}).Methods("GET")
	server := httptest.NewServer(router)
	defer server.Close()

	api := NewDocumentApi(server.URL)
	defer api.Close()

	callback, c := NewBlockingApiCallback[*ListDocumentsResult]()
	api.ListDocuments(callback)

	result := <-c
	assert.Equal(t, result.Error, nil)
	assert.Equal(t, 2, len(result.Result.Documents))
}
