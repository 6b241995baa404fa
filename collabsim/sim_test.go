package main

import (
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"

	"github.com/scribehq/scribe/collab"
)

func TestStorePermissions(t *testing.T) {
	store := NewSimStore()

	owner := store.Login("owner@example.com")
	writer := store.Login("writer@example.com")
	reader := store.Login("reader@example.com")
	stranger := store.Login("stranger@example.com")

	document := store.CreateDocument(owner.UserId, "Notes", "hello")
	store.Share(document, "writer@example.com", collab.PermissionWrite)
	store.Share(document, "reader@example.com", collab.PermissionRead)

	assert.Equal(t, collab.PermissionOwner, store.Permission(document, owner.UserId))
	assert.Equal(t, collab.PermissionWrite, store.Permission(document, writer.UserId))
	assert.Equal(t, collab.PermissionRead, store.Permission(document, reader.UserId))
	assert.Equal(t, "", store.Permission(document, stranger.UserId))

	// sharing again with the same email updates the permission in place
	store.Share(document, "reader@example.com", collab.PermissionWrite)
	assert.Equal(t, collab.PermissionWrite, store.Permission(document, reader.UserId))
	assert.Equal(t, 2, len(store.Collaborators(document)))
}

func TestStoreUpdateVersioning(t *testing.T) {
	store := NewSimStore()
	owner := store.Login("owner@example.com")
	document := store.CreateDocument(owner.UserId, "Notes", "v1")
	assert.Equal(t, 1, document.Version)

	version, ok := store.Update(document, "", "v2", 1)
	assert.Equal(t, true, ok)
	assert.Equal(t, 2, version)

	// a save against a superseded version is rejected unchanged
	version, ok = store.Update(document, "", "stale", 1)
	assert.Equal(t, false, ok)
	assert.Equal(t, 2, version)
	assert.Equal(t, "v2", document.Content)
}

func TestRestRoundTrip(t *testing.T) {
	simServer := NewSimServer()
	server := httptest.NewServer(simServer.Router())
	defer server.Close()

	api := collab.NewDocumentApi(server.URL)
	defer api.Close()

	login, err := api.AuthLoginSync(&collab.AuthLoginArgs{
		Email:    "alice@example.com",
		Password: "anything",
	})
	assert.Equal(t, err, nil)
	assert.NotEqual(t, "", login.Token)
	api.SetByJwt(login.Token)

	created, err := api.CreateDocumentSync(&collab.CreateDocumentArgs{
		Title:   "Notes",
		Content: "hello",
	})
	assert.Equal(t, err, nil)
	documentId := created.Document.DocumentId
	assert.Equal(t, 1, created.Document.Version)
	assert.Equal(t, collab.PermissionOwner, created.Document.Permission)

	got, err := api.GetDocumentSync(documentId)
	assert.Equal(t, err, nil)
	assert.Equal(t, "hello", got.Document.Content)

	updated, err := api.UpdateDocumentSync(documentId, &collab.UpdateDocumentArgs{
		Title:   "Notes",
		Content: "hello world",
		Version: 1,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, 2, updated.Document.Version)

	// a stale save answers with the authoritative copy, not an error
	conflicted, err := api.UpdateDocumentSync(documentId, &collab.UpdateDocumentArgs{
		Title:   "Notes",
		Content: "stale",
		Version: 1,
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, true, conflicted.Conflict)
	assert.Equal(t, "hello world", conflicted.CurrentContent)
	assert.Equal(t, 2, conflicted.CurrentVersion)

	listed, err := api.ListDocumentsSync()
	assert.Equal(t, err, nil)
	assert.Equal(t, 1, len(listed.Documents))
}

func TestRestAccessControl(t *testing.T) {
	simServer := NewSimServer()
	server := httptest.NewServer(simServer.Router())
	defer server.Close()

	apiAlice := collab.NewDocumentApi(server.URL)
	defer apiAlice.Close()
	loginAlice, err := apiAlice.AuthLoginSync(&collab.AuthLoginArgs{Email: "alice@example.com"})
	assert.Equal(t, err, nil)
	apiAlice.SetByJwt(loginAlice.Token)

	apiBob := collab.NewDocumentApi(server.URL)
	defer apiBob.Close()
	loginBob, err := apiBob.AuthLoginSync(&collab.AuthLoginArgs{Email: "bob@example.com"})
	assert.Equal(t, err, nil)
	apiBob.SetByJwt(loginBob.Token)

	created, err := apiAlice.CreateDocumentSync(&collab.CreateDocumentArgs{Title: "Private"})
	assert.Equal(t, err, nil)
	documentId := created.Document.DocumentId

	_, err = apiBob.GetDocumentSync(documentId)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, "Access denied", err.Error())

	_, err = apiAlice.ShareDocumentSync(documentId, &collab.ShareDocumentArgs{
		Email:      "bob@example.com",
		Permission: collab.PermissionRead,
	})
	assert.Equal(t, err, nil)

	got, err := apiBob.GetDocumentSync(documentId)
	assert.Equal(t, err, nil)
	assert.Equal(t, collab.PermissionRead, got.Document.Permission)
	assert.Equal(t, false, got.Document.Writable())

	// read permission cannot persist
	_, err = apiBob.UpdateDocumentSync(documentId, &collab.UpdateDocumentArgs{
		Title:   "Private",
		Content: "takeover",
		Version: 1,
	})
	assert.NotEqual(t, err, nil)

	// only the owner can delete
	_, err = apiBob.DeleteDocumentSync(documentId)
	assert.NotEqual(t, err, nil)
	_, err = apiAlice.DeleteDocumentSync(documentId)
	assert.Equal(t, err, nil)
}
