package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/scribehq/scribe/collab"

	"github.com/golang/glog"
)

// dev-only signing key. the simulator is not an auth system.
var simSigningKey = []byte("collabsim-dev-key")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type SimServer struct {
	store *SimStore
	hub   *Hub
}

func NewSimServer() *SimServer {
	return &SimServer{
		store: NewSimStore(),
		hub:   NewHub(),
	}
}

func (self *SimServer) Router() *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/auth/login", self.authLogin).Methods("POST")
	router.HandleFunc("/documents", self.listDocuments).Methods("GET")
	router.HandleFunc("/documents", self.createDocument).Methods("POST")
	router.HandleFunc("/documents/ws/connect", self.connectWs)
	router.HandleFunc("/documents/{documentId}", self.getDocument).Methods("GET")
	router.HandleFunc("/documents/{documentId}", self.updateDocument).Methods("PATCH")
	router.HandleFunc("/documents/{documentId}", self.deleteDocument).Methods("DELETE")
	router.HandleFunc("/documents/{documentId}/rename", self.renameDocument).Methods("PATCH")
	router.HandleFunc("/documents/{documentId}/share", self.shareDocument).Methods("POST")
	router.HandleFunc("/documents/{documentId}/collaborators", self.getCollaborators).Methods("GET")
	router.HandleFunc("/documents/{documentId}/collaborators/{collaboratorId}", self.updateCollaborator).Methods("PATCH")
	router.HandleFunc("/documents/{documentId}/collaborators/{collaboratorId}", self.removeCollaborator).Methods("DELETE")
	return router
}

func writeJson(w http.ResponseWriter, status int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(result)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJson(w, status, map[string]string{"error": message})
}

func (self *SimServer) mintByJwt(user *SimUser) (string, error) {
	claims := gojwt.MapClaims{
		"user_id":  user.UserId,
		"username": user.UserName,
		"email":    user.Email,
		"iat":      time.Now().Unix(),
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(simSigningKey)
}

func (self *SimServer) verifyByJwt(byJwt string) (*collab.ByJwt, error) {
	_, err := gojwt.Parse(byJwt, func(token *gojwt.Token) (any, error) {
		return simSigningKey, nil
	})
	if err != nil {
		return nil, err
	}
	return collab.ParseByJwtUnverified(byJwt)
}

// auth resolves the bearer credential on the request, or writes a 401
func (self *SimServer) auth(w http.ResponseWriter, r *http.Request) (*collab.ByJwt, bool) {
	authHeader := r.Header.Get("Authorization")
	byJwt, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok {
		writeError(w, http.StatusUnauthorized, "Missing credential")
		return nil, false
	}
	claims, err := self.verifyByJwt(byJwt)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credential")
		return nil, false
	}
	return claims, true
}

// document resolves the document on the request and the caller's permission,
// or writes a 404/403
func (self *SimServer) document(w http.ResponseWriter, r *http.Request, userId string) (*SimDocument, string, bool) {
	document, ok := self.store.GetDocument(mux.Vars(r)["documentId"])
	if !ok {
		writeError(w, http.StatusNotFound, "Document not found")
		return nil, "", false
	}
	permission := self.store.Permission(document, userId)
	if permission == "" {
		writeError(w, http.StatusForbidden, "Access denied")
		return nil, "", false
	}
	return document, permission, true
}

func (self *SimServer) authLogin(w http.ResponseWriter, r *http.Request) {
	var args collab.AuthLoginArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || args.Email == "" {
		writeError(w, http.StatusBadRequest, "Email required")
		return
	}

	user := self.store.Login(args.Email)
	byJwt, err := self.mintByJwt(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not mint credential")
		return
	}

	glog.V(1).Infof("[sim]login %s as %s\n", args.Email, user.UserId)
	writeJson(w, http.StatusOK, &collab.AuthLoginResult{
		Token:  byJwt,
		UserId: user.UserId,
	})
}

func (self *SimServer) listDocuments(w http.ResponseWriter, r *http.Request) {
	claims, ok := self.auth(w, r)
	if !ok {
		return
	}

	documents := []*collab.ApiDocument{}
	for _, document := range self.store.ListDocuments(claims.UserId) {
		documents = append(documents, self.store.apiDocument(document, claims.UserId))
	}
	writeJson(w, http.StatusOK, &collab.ListDocumentsResult{
		Documents: documents,
	})
}

func (self *SimServer) createDocument(w http.ResponseWriter, r *http.Request) {
	claims, ok := self.auth(w, r)
	if !ok {
		return
	}

	var args collab.CreateDocumentArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || args.Title == "" {
		writeError(w, http.StatusBadRequest, "Title required")
		return
	}

	document := self.store.CreateDocument(claims.UserId, args.Title, args.Content)
	writeJson(w, http.StatusOK, &collab.CreateDocumentResult{
		Document: self.store.apiDocument(document, claims.UserId),
	})
}

func (self *SimServer) getDocument(w http.ResponseWriter, r *http.Request) {
	claims, ok := self.auth(w, r)
	if !ok {
		return
	}
	document, _, ok := self.document(w, r, claims.UserId)
	if !ok {
		return
	}

	writeJson(w, http.StatusOK, &collab.GetDocumentResult{
		Document: self.store.apiDocument(document, claims.UserId),
	})
}

func (self *SimServer) updateDocument(w http.ResponseWriter, r *http.Request) {
	claims, ok := self.auth(w, r)
	if !ok {
		return
	}
	document, permission, ok := self.document(w, r, claims.UserId)
	if !ok {
		return
	}
	if permission == collab.PermissionRead {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	var args collab.UpdateDocumentArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body")
		return
	}

	version, saved := self.store.Update(document, args.Title, args.Content, args.Version)
	if !saved {
		// the save raced a newer copy. answer with the authoritative copy
		// instead of failing the request.
		api := self.store.apiDocument(document, claims.UserId)
		glog.V(1).Infof("[sim]save conflict on %s: v%d against v%d\n", document.DocumentId, args.Version, version)
		writeJson(w, http.StatusConflict, &collab.UpdateDocumentResult{
			Conflict:       true,
			CurrentContent: api.Content,
			CurrentVersion: api.Version,
		})
		return
	}

	self.hub.BroadcastMessage(document.DocumentId, nil, &collab.SavedMessage{
		Type:    collab.MessageTypeSaved,
		Version: &version,
		Content: &args.Content,
	})

	writeJson(w, http.StatusOK, &collab.UpdateDocumentResult{
		Document: self.store.apiDocument(document, claims.UserId),
	})
}

func (self *SimServer) renameDocument(w http.ResponseWriter, r *http.Request) {
	claims, ok := self.auth(w, r)
	if !ok {
		return
	}
	document, permission, ok := self.document(w, r, claims.UserId)
	if !ok {
		return
	}
	if permission == collab.PermissionRead {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	var args collab.RenameDocumentArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || args.Title == "" {
		writeError(w, http.StatusBadRequest, "Title required")
		return
	}

	self.store.Rename(document, args.Title)
	writeJson(w, http.StatusOK, &collab.RenameDocumentResult{
		Document: self.store.apiDocument(document, claims.UserId),
	})
}

func (self *SimServer) deleteDocument(w http.ResponseWriter, r *http.Request) {
	claims, ok := self.auth(w, r)
	if !ok {
		return
	}
	document, permission, ok := self.document(w, r, claims.UserId)
	if !ok {
		return
	}
	if permission != collab.PermissionOwner {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	self.store.DeleteDocument(document.DocumentId)
	writeJson(w, http.StatusOK, &collab.DeleteDocumentResult{
		Deleted: true,
	})
}

func (self *SimServer) shareDocument(w http.ResponseWriter, r *http.Request) {
	claims, ok := self.auth(w, r)
	if !ok {
		return
	}
	document, permission, ok := self.document(w, r, claims.UserId)
	if !ok {
		return
	}
	if permission != collab.PermissionOwner {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	var args collab.ShareDocumentArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil || args.Email == "" {
		writeError(w, http.StatusBadRequest, "Email required")
		return
	}
	switch args.Permission {
	case collab.PermissionWrite, collab.PermissionRead:
	default:
		writeError(w, http.StatusBadRequest, "Invalid permission")
		return
	}

	collaborator := self.store.Share(document, args.Email, args.Permission)
	writeJson(w, http.StatusOK, &collab.ShareDocumentResult{
		Collaborator: collaborator,
	})
}

func (self *SimServer) getCollaborators(w http.ResponseWriter, r *http.Request) {
	claims, ok := self.auth(w, r)
	if !ok {
		return
	}
	document, _, ok := self.document(w, r, claims.UserId)
	if !ok {
		return
	}

	writeJson(w, http.StatusOK, &collab.GetCollaboratorsResult{
		Collaborators: self.store.Collaborators(document),
	})
}

func (self *SimServer) updateCollaborator(w http.ResponseWriter, r *http.Request) {
	claims, ok := self.auth(w, r)
	if !ok {
		return
	}
	document, permission, ok := self.document(w, r, claims.UserId)
	if !ok {
		return
	}
	if permission != collab.PermissionOwner {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	var args collab.UpdateCollaboratorArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid body")
		return
	}
	switch args.Permission {
	case collab.PermissionWrite, collab.PermissionRead:
	default:
		writeError(w, http.StatusBadRequest, "Invalid permission")
		return
	}

	collaborator, ok := self.store.UpdateCollaborator(document, mux.Vars(r)["collaboratorId"], args.Permission)
	if !ok {
		writeError(w, http.StatusNotFound, "Collaborator not found")
		return
	}
	writeJson(w, http.StatusOK, &collab.UpdateCollaboratorResult{
		Collaborator: collaborator,
	})
}

func (self *SimServer) removeCollaborator(w http.ResponseWriter, r *http.Request) {
	claims, ok := self.auth(w, r)
	if !ok {
		return
	}
	document, permission, ok := self.document(w, r, claims.UserId)
	if !ok {
		return
	}
	if permission != collab.PermissionOwner {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	if !self.store.RemoveCollaborator(document, mux.Vars(r)["collaboratorId"]) {
		writeError(w, http.StatusNotFound, "Collaborator not found")
		return
	}
	writeJson(w, http.StatusOK, &collab.RemoveCollaboratorResult{
		Removed: true,
	})
}

// live channel endpoint. frames are relayed verbatim inside the document
// room; the stored copy only changes through saves.
func (self *SimServer) connectWs(w http.ResponseWriter, r *http.Request) {
	documentId := r.URL.Query().Get("doc_id")
	claims, err := self.verifyByJwt(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credential")
		return
	}

	document, ok := self.store.GetDocument(documentId)
	if !ok {
		writeError(w, http.StatusNotFound, "Document not found")
		return
	}
	if self.store.Permission(document, claims.UserId) == "" {
		writeError(w, http.StatusForbidden, "Access denied")
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[sim]upgrade error: %s\n", err)
		return
	}
	conn := NewRoomConn(ws, claims.UserId, claims.UserName)

	self.hub.Join(documentId, conn)
	glog.V(1).Infof("[sim]%s joined %s\n", claims.UserId, documentId)

	self.hub.BroadcastMessage(documentId, conn, &collab.UserJoinedMessage{
		Type:     collab.MessageTypeUserJoined,
		UserId:   claims.UserId,
		UserName: claims.UserName,
	})

	defer func() {
		ws.Close()
		self.hub.Leave(documentId, conn)
		glog.V(1).Infof("[sim]%s left %s\n", claims.UserId, documentId)
		self.hub.BroadcastMessage(documentId, nil, &collab.UserLeftMessage{
			Type:   collab.MessageTypeUserLeft,
			UserId: claims.UserId,
		})
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		self.hub.Broadcast(documentId, conn, data)
	}
}
